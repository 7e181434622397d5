package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/livesync/internal/compiler"
	"github.com/roach88/livesync/internal/queryir"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the query definitions loaded from a directory.
type LoadResult struct {
	Definitions []queryir.Definition
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDefinitions loads and compiles the query definitions under dir.
// Every field of the top-level "query" struct is one definition, named
// after its label. Structural errors are reported here; run
// compiler.ValidateAll on the result for semantic checks.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("queries directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing queries directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	queriesVal := value.LookupPath(cue.ParsePath("query"))
	if queriesVal.Exists() {
		iter, iterErr := queriesVal.Fields()
		if iterErr != nil {
			return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating queries: %v", iterErr)}}
		}
		for iter.Next() {
			def, compileErr := compiler.CompileQuery(iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "query."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Definitions = append(result.Definitions, *def)
		}
	}

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no queries found in definitions"})
	}

	return result, errs
}

// LoadValidDefinitions loads dir and fails on any load or validation
// error. It is the loader used by commands that run queries.
func LoadValidDefinitions(dir string) ([]queryir.Definition, error) {
	result, errs := LoadDefinitions(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if verrs := compiler.ValidateAll(result.Definitions); len(verrs) > 0 {
		return nil, fmt.Errorf("%d invalid query definitions, first: %w", len(verrs), verrs[0])
	}
	return result.Definitions, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
// Validation codes (E100-E104) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Query structure errors
	ErrCodeInvalidColumns = "E110" // columns is not a list of strings
	ErrCodeInvalidWhere   = "E111" // malformed where, compare or not_null
	ErrCodeInvalidOrder   = "E112" // malformed order
	ErrCodeInvalidLimit   = "E113" // limit is not an integer
	ErrCodeInvalidArity   = "E114" // arity is not "one" or "many"
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "from":
		return compiler.ErrQueryFromEmpty
	case "columns":
		return ErrCodeInvalidColumns
	case "where", "compare", "compare.field", "compare.op", "compare.value", "not_null":
		return ErrCodeInvalidWhere
	case "order":
		return ErrCodeInvalidOrder
	case "limit":
		return ErrCodeInvalidLimit
	case "arity":
		return ErrCodeInvalidArity
	default:
		return ErrCodeGeneric
	}
}

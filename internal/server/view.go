package server

import (
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// View is the JSON form of a live query's state handed to the presentation
// layer. Error carries only the user-facing message; causes stay in the logs.
type View struct {
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Table             string     `json:"table"`
	Arity             string     `json:"arity"`
	Status            string     `json:"status"`
	Generation        int64      `json:"generation"`
	Live              bool       `json:"live"`
	Rows              []ir.Row   `json:"rows"`
	Stale             bool       `json:"stale"`
	Hash              string     `json:"hash,omitempty"`
	Error             *ErrorView `json:"error,omitempty"`
	SubscriptionError string     `json:"subscription_error,omitempty"`
}

// ErrorView is an error as shown to end users.
type ErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary is one entry of the query listing.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Table       string `json:"table"`
	Status      string `json:"status"`
	Live        bool   `json:"live"`
}

// NewView renders a state snapshot.
//
// While the query is not loaded, Rows falls back to the last good result and
// Stale is set, so a transient failure does not blank the screen.
func NewView(def queryir.Definition, st livequery.State[ir.Row]) View {
	v := View{
		Name:        def.Name,
		Description: def.Description,
		Table:       def.Spec.From,
		Arity:       def.Spec.Arity.String(),
		Status:      st.Status.String(),
		Generation:  st.Generation,
		Live:        st.Live,
		Rows:        []ir.Row{},
	}

	switch {
	case st.Result != nil:
		v.Rows = st.Result.Rows
		v.Hash = st.Result.Hash
	case st.LastGood != nil:
		v.Rows = st.LastGood.Rows
		v.Hash = st.LastGood.Hash
		v.Stale = true
	}
	if v.Rows == nil {
		v.Rows = []ir.Row{}
	}

	if st.Err != nil {
		v.Error = &ErrorView{Code: string(source.CodeOf(st.Err)), Message: st.Message}
	}
	if st.SubscriptionErr != nil {
		v.SubscriptionError = source.UserMessage(st.SubscriptionErr)
	}
	return v
}

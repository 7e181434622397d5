package ir

// Version is the livesync release version reported by the CLI and server.
const Version = "0.1.0"

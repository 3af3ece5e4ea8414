package entities

// Gateway error codes. The space is flat and shared between drivers and the
// session multiplexer: codes below 4100 close the client socket with a
// policy-violation close code, 4100 and above with an internal-error code.
const (
	CodeConfigMissing    = 4001 // credentials or required configuration absent
	CodeConnectFailed    = 4002 // upstream connect failure or unknown model
	CodeProtocolError    = 4003 // vendor-reported error, unsupported encoding, disabled model
	CodeRateLimited      = 4004 // flow-control warning
	CodeUnexpectedClose  = 4005 // vendor socket closed unexpectedly
	CodeMalformedMessage = 4006 // malformed client message
	CodeInternal         = 4100 // unclassified internal error
)

// Package protocol implements the PSG9080 command codec.
//
// Every message on the link is a single ASCII frame:
//
//	":" op code "=" field ("," field)? "." "\r\n"
//
// where op is 'w' (write) or 'r' (read), code is a two-digit parameter code
// and each field is an unsigned decimal integer. Fractional quantities travel
// pre-scaled (amplitude in millivolts, duty in hundredths of a percent, ...).
//
// Encoding and decoding are driven by one flat table keyed by code. Each row
// lists the parameters the frame carries together with their scaling and
// domain, so both directions are symmetric and every row can be tested on
// its own.
package protocol

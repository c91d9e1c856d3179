package typeddata

import "errors"

var errInvalidSignatureLength = errors.New("typeddata: signature must be 65 bytes")

package smp

// Security status codes reported in auth status and used in replies.
const (
	StatusSuccess            = 0x00
	StatusTimeout            = 0x01
	StatusPDUInvalid         = 0x02
	StatusPasskeyEntryFailed = 0x81
	StatusOOBNotAvailable    = 0x82
	StatusAuthReq            = 0x83
	StatusConfirmValue       = 0x84
	StatusPairingNotSupp     = 0x85
	StatusEncKeySize         = 0x86
	StatusSMPCmdUnsupported  = 0x87
	StatusUnspecified        = 0x88
	StatusRepeatedAttempts   = 0x89
	StatusInvalidParams      = 0x8A
)

// Encryption key size bounds [Vol 3, Part H, 3.5.1].
const (
	KeySizeMin = 7
	KeySizeMax = 16
)

const (
	keyDistEnc  = byte(0x01)
	keyDistID   = byte(0x02)
	keyDistSign = byte(0x04)

	secFlagBond = byte(0x01)
	secFlagMITM = byte(0x02)
	secFlagOOB  = byte(0x04)
)

var statusText = map[byte]string{
	StatusSuccess:            "success",
	StatusTimeout:            "timeout",
	StatusPDUInvalid:         "pdu invalid",
	StatusPasskeyEntryFailed: "passkey entry failed",
	StatusOOBNotAvailable:    "oob not available",
	StatusAuthReq:            "authentication requirements",
	StatusConfirmValue:       "confirm value failed",
	StatusPairingNotSupp:     "pairing not supported",
	StatusEncKeySize:         "encryption key size",
	StatusSMPCmdUnsupported:  "smp command unsupported",
	StatusUnspecified:        "unspecified reason",
	StatusRepeatedAttempts:   "repeated attempts",
	StatusInvalidParams:      "invalid parameters",
}

// StatusText returns a short description of a security status code.
func StatusText(s byte) string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return "unknown"
}

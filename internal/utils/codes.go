package utils

import (
    "crypto/rand"
    "fmt"
    "math/big"
)

// codeSpace is the number of six digit codes, 100000..999999.
var codeSpace = big.NewInt(900000)

// NewLinkCode returns a uniformly random six digit decimal code.  The
// leading digit is never zero so the code reads the same on every client.
func NewLinkCode() (string, error) {
    n, err := rand.Int(rand.Reader, codeSpace)
    if err != nil {
        return "", err
    }
    return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// ValidLinkCode reports whether s looks like a code NewLinkCode could
// have produced.
func ValidLinkCode(s string) bool {
    if len(s) != 6 || s[0] == '0' {
        return false
    }
    for i := 0; i < len(s); i++ {
        if s[i] < '0' || s[i] > '9' {
            return false
        }
    }
    return true
}

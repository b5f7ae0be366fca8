package verification

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

const maxCodeLength = 18

// CodeGenerator produces numeric verification codes.
type CodeGenerator interface {
	Generate(length int) (string, error)
}

// RandomCodes draws codes uniformly from [10^(n-1), 10^n - 1], so a code never
// starts with zero. A nil Reader uses crypto/rand.
type RandomCodes struct {
	Reader io.Reader
}

func (g RandomCodes) Generate(length int) (string, error) {
	if length < 1 || length > maxCodeLength {
		return "", fmt.Errorf("code length %d out of range [1,%d]", length, maxCodeLength)
	}
	reader := g.Reader
	if reader == nil {
		reader = rand.Reader
	}

	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))
	n, err := rand.Int(reader, span)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strconv.FormatInt(n.Add(n, low).Int64(), 10), nil
}

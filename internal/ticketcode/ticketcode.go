// Package ticketcode generates redemption codes and order identifiers.
//
// Codes carry 48 bits of entropy; global uniqueness is enforced by the
// unique index on tickets.code, with the caller regenerating on a
// collision.
package ticketcode

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const codeBytes = 6 // 48 bits

type Generator struct {
	prefix string
}

func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Code returns "<PREFIX>-<12 hex chars>".
func (g *Generator) Code() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ticketcode.Code: %w", err)
	}

	return g.prefix + "-" + strings.ToUpper(hex.EncodeToString(b)), nil
}

// Codes returns n distinct codes. Distinctness within the batch is
// checked locally; cross-batch uniqueness is the database's job.
func (g *Generator) Codes(n int) ([]string, error) {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)

	for len(out) < n {
		c, err := g.Code()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	return out, nil
}

// OrderID returns "ORDER-<unix-ms>-<8 hex chars>". The timestamp keeps
// identifiers roughly ordered; the random suffix keeps concurrent
// orders from colliding.
func OrderID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ticketcode.OrderID: %w", err)
	}

	return fmt.Sprintf("ORDER-%d-%s",
		time.Now().UnixMilli(),
		strings.ToUpper(hex.EncodeToString(b)),
	), nil
}

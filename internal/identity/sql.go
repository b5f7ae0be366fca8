package identity

import (
	"fmt"
	"strings"
	"time"
)

const identityColumns = `id, phone_ciphertext, phone_hash, nickname, role, code, code_expires_at,
        last_code_sent_at, active, created_at, updated_at`

// setClause renders the SET list for a patch. bind receives each argument and
// returns its placeholder; ts converts timestamps into the driver's column type.
func setClause(p Patch, now time.Time, bind func(any) string, ts func(time.Time) any) string {
	sets := make([]string, 0, 8)
	if p.Nickname != nil {
		sets = append(sets, "nickname = "+bind(*p.Nickname))
	}
	if p.Role != nil {
		sets = append(sets, "role = "+bind(string(*p.Role)))
	}
	switch {
	case p.ClearCode:
		sets = append(sets, "code = NULL", "code_expires_at = NULL")
	case p.SetCode != nil:
		sets = append(sets,
			"code = "+bind(p.SetCode.Value),
			"code_expires_at = "+bind(ts(p.SetCode.ExpiresAt)),
		)
	}
	if p.LastCodeSentAt != nil {
		sets = append(sets, "last_code_sent_at = "+bind(ts(*p.LastCodeSentAt)))
	}
	if p.Active != nil {
		sets = append(sets, "active = "+bind(*p.Active))
	}
	sets = append(sets, "updated_at = "+bind(ts(now)))
	return strings.Join(sets, ", ")
}

// binder collects positional arguments for a query.
type binder struct {
	args   []any
	format func(n int) string
}

func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return b.format(len(b.args))
}

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }

package runtime

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

// placeholderRe extracts ${name} references from step detail fields.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

const randomTokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// defaultRandomLength is used for random_string variables without an
// explicit length.
const defaultRandomLength = 8

// Resolver substitutes ${name} placeholders using declared scenario
// variables. Pure string transform, no side effects; random_* kinds yield a
// fresh value on every call.
type Resolver struct{}

// Resolve scans template for ${name} occurrences and substitutes each
// declared variable. Placeholders that name no declared variable are left
// unchanged.
func (Resolver) Resolve(template string, vars []schema.Variable) string {
	if len(vars) == 0 {
		return template
	}
	byName := make(map[string]*schema.Variable, len(vars))
	for i := range vars {
		byName[vars[i].Name] = &vars[i]
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := byName[name]
		if !ok {
			return match // pass-through, not an error
		}
		return generate(v)
	})
}

// generate produces the substitution value for one variable.
func generate(v *schema.Variable) string {
	switch v.Kind {
	case schema.VarStatic:
		return v.Value
	case schema.VarList:
		if len(v.Values) > 0 {
			return v.Values[0]
		}
		return v.Value
	case schema.VarRandomString:
		length := v.Length
		if length <= 0 {
			length = defaultRandomLength
		}
		return randomToken(length)
	case schema.VarRandomNumber:
		return strconv.FormatInt(randomNumber(v.Min, v.Max), 10)
	}
	return v.Value
}

// randomToken returns a fresh alphanumeric token of the given length.
func randomToken(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(randomTokenAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// fall back to a fixed rune rather than panic mid-run.
			out[i] = '0'
			continue
		}
		out[i] = randomTokenAlphabet[n.Int64()]
	}
	return string(out)
}

// randomNumber returns a fresh integer in [min, max]. A zero max means the
// default bound of 999999.
func randomNumber(min, max int64) int64 {
	if max == 0 {
		max = 999999
	}
	if max < min {
		return min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return min
	}
	return min + n.Int64()
}

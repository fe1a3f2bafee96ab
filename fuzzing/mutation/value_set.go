package mutation

import (
	"bufio"
	"encoding/hex"
	"hash"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
)

// ValueSet represents byte tokens of significance for the target, to be spliced into inputs during mutation.
type ValueSet struct {
	// tokens represents a set of byte tokens to splice into fuzzed inputs. A mapping is used to avoid duplicates.
	tokens map[string][]byte
	// hashProvider represents a hash provider used to create keys for the token data.
	hashProvider hash.Hash
}

// NewValueSet initializes a new ValueSet object for use with a BytesMutator.
func NewValueSet() *ValueSet {
	return &ValueSet{
		tokens:       make(map[string][]byte, 0),
		hashProvider: sha3.New256(),
	}
}

// Clone creates a copy of the current ValueSet.
func (vs *ValueSet) Clone() *ValueSet {
	return &ValueSet{
		tokens:       maps.Clone(vs.tokens),
		hashProvider: sha3.New256(),
	}
}

// Tokens returns a list of the byte tokens contained within the set.
func (vs *ValueSet) Tokens() [][]byte {
	res := make([][]byte, len(vs.tokens))
	count := 0
	for _, v := range vs.tokens {
		res[count] = v
		count++
	}
	return res
}

// TokenCount returns the amount of byte tokens contained within the set.
func (vs *ValueSet) TokenCount() int {
	return len(vs.tokens)
}

// AddToken adds a byte token to the ValueSet.
func (vs *ValueSet) AddToken(token []byte) {
	if len(token) == 0 {
		return
	}

	// Calculate the hash of the token, to use as a key to avoid duplicates.
	vs.hashProvider.Reset()
	vs.hashProvider.Write(token)
	hashStr := hex.EncodeToString(vs.hashProvider.Sum(nil))

	vs.tokens[hashStr] = token
}

// AddTokensFromDictionaryFile reads an AFL-style dictionary file and adds each entry to the ValueSet. Each line holds
// an optional name, an equals sign, and a double-quoted token which may use \xNN escapes. Blank lines and lines
// starting with '#' are skipped.
// Returns an error if the file cannot be read or an entry cannot be parsed.
func (vs *ValueSet) AddTokensFromDictionaryFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Strip any name prefix, leaving the quoted token.
		if idx := strings.Index(line, "="); idx >= 0 {
			line = strings.TrimSpace(line[idx+1:])
		}
		token, err := parseDictionaryToken(line)
		if err != nil {
			return errors.Errorf("could not parse dictionary entry on line %d of %s: %v", lineNumber, path, err)
		}
		vs.AddToken(token)
	}
	return errors.WithStack(scanner.Err())
}

// parseDictionaryToken decodes a double-quoted dictionary token, resolving \\, \", and \xNN escapes.
func parseDictionaryToken(quoted string) ([]byte, error) {
	if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
		return nil, errors.New("token is not double-quoted")
	}
	body := quoted[1 : len(quoted)-1]

	token := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		if body[i] != '\\' {
			token = append(token, body[i])
			continue
		}
		if i+1 >= len(body) {
			return nil, errors.New("token ends with an unfinished escape")
		}
		i++
		switch body[i] {
		case '\\', '"':
			token = append(token, body[i])
		case 'x':
			if i+2 >= len(body) {
				return nil, errors.New("token ends with an unfinished hex escape")
			}
			value, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return nil, errors.Errorf("invalid hex escape \\x%s", body[i+1:i+3])
			}
			token = append(token, byte(value))
			i += 2
		default:
			return nil, errors.Errorf("unsupported escape \\%c", body[i])
		}
	}
	return token, nil
}

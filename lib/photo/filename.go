/*
 * RapidPhotoFlow
 * Copyright (C) 2025  RapidPhotoFlow contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package photo

import (
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/rapidphotoflow/photoflow/lib/defaults"
)

// reservedNames are device filenames on Windows; a sanitized name must not
// collide with them, bare or with any extension.
var reservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// SanitizeFilename makes a client-provided filename safe to use as an object
// store key: path separators and ".." sequences are removed, every other
// character outside [A-Za-z0-9._-] is replaced with a single underscore,
// Windows reserved device names are prefixed, and the result is
// length-limited with the extension preserved. A name with nothing left
// after sanitizing becomes "file". Sanitizing an already sanitized name is a
// no-op.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	skip := false
	for i, r := range name {
		if skip {
			skip = false
			continue
		}
		switch {
		case r == '/' || r == '\\':
			// removed, not replaced
		case r == '.' && i+1 < len(name) && name[i+1] == '.':
			// drop the ".." pair wholesale
			skip = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sanitized := strings.TrimSpace(b.String())

	upper := strings.ToUpper(sanitized)
	for _, reserved := range reservedNames {
		if upper == reserved || strings.HasPrefix(upper, reserved+".") {
			sanitized = "file_" + sanitized
			break
		}
	}

	if sanitized == "" {
		sanitized = "file"
	}

	if len(sanitized) > defaults.MaxFilenameLength {
		ext := Extension(sanitized)
		if len(ext) >= defaults.MaxFilenameLength {
			// A lone dot near the front of an over-long name is not an
			// extension worth preserving.
			ext = ""
		}
		sanitized = sanitized[:defaults.MaxFilenameLength-len(ext)] + ext
	}

	return sanitized
}

// Extension returns the lowercased extension of name including the dot, or
// the empty string when there is none.
func Extension(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot == -1 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[dot:])
}

// StorageKey generates the object store key for a photo: a fresh opaque
// token plus the lowercased extension of the (sanitized) filename. The key
// is never derived from user-controlled bytes.
func StorageKey(sanitizedName string) string {
	key := uuid.NewString()
	if ext := Extension(sanitizedName); ext != "" {
		key += ext
	}
	return key
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// shortIDLength is the length of the human-facing short identifier.
const shortIDLength = 6

// ShortID derives a 6-character base62 token from a fresh UUID. Collisions
// are possible at this length; the repository retries the insert with a new
// token when the unique index rejects one.
func ShortID() string {
	id := uuid.New()
	hi := new(big.Int).SetBytes(id[:8])
	lo := new(big.Int).SetBytes(id[8:])
	n := hi.Xor(hi, lo)

	buf := make([]byte, 0, shortIDLength)
	base := big.NewInt(62)
	mod := new(big.Int)
	for n.Sign() > 0 && len(buf) < shortIDLength {
		n.DivMod(n, base, mod)
		buf = append(buf, base62Alphabet[mod.Int64()])
	}
	for len(buf) < shortIDLength {
		buf = append(buf, base62Alphabet[0])
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ValidShortID reports whether s has the shape of a short identifier.
func ValidShortID(s string) bool {
	if len(s) != shortIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(base62Alphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

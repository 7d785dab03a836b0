package gameid

import (
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	id := New()

	if len(id) != 26 {
		t.Errorf("expected 26 characters, got %d", len(id))
	}

	if err := Validate(id); err != nil {
		t.Errorf("generated id failed validation: %v", err)
	}

	if id[0] > '7' {
		t.Errorf("first character %c exceeds maximum '7'", id[0])
	}
}

func TestNewUnique(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		id := New()
		if ids[id] {
			t.Errorf("duplicate id generated: %s", id)
		}
		ids[id] = true
	}
}

func TestNewTimeSorted(t *testing.T) {
	var ids []string

	for i := 0; i < 10; i++ {
		ids = append(ids, New())
		time.Sleep(time.Millisecond)
	}

	// UUIDv7 ids sort by timestamp
	for i := 1; i < len(ids); i++ {
		if strings.Compare(ids[i-1], ids[i]) >= 0 {
			t.Errorf("ids not sorted: %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{
			name:    "valid id",
			id:      "01h5n0et5q6mt3v7ms1234abcd",
			wantErr: false,
		},
		{
			name:    "too short",
			id:      "01h5n0et5q6mt3v7ms123",
			wantErr: true,
		},
		{
			name:    "too long",
			id:      "01h5n0et5q6mt3v7ms1234abcdef",
			wantErr: true,
		},
		{
			name:    "first char too high",
			id:      "81h5n0et5q6mt3v7ms1234abcd",
			wantErr: true,
		},
		{
			name:    "invalid character",
			id:      "01h5n0et5q6mt3v7ms1234abci",
			wantErr: true,
		},
		{
			name:    "uppercase not allowed",
			id:      "01H5N0ET5Q6MT3V7MS1234ABCD",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlphabet(t *testing.T) {
	if len(alphabet) != 32 {
		t.Errorf("alphabet should have 32 characters, got %d", len(alphabet))
	}

	seen := make(map[rune]bool)
	for _, char := range alphabet {
		if seen[char] {
			t.Errorf("duplicate character in alphabet: %c", char)
		}
		seen[char] = true
	}

	// Crockford base32 excludes ambiguous letters
	for _, char := range "ilou" {
		if strings.ContainsRune(alphabet, char) {
			t.Errorf("alphabet should not contain %c", char)
		}
	}
}

type mockRandSource struct {
	values []int
	index  int
}

func (m *mockRandSource) Intn(n int) int {
	if m.index >= len(m.values) {
		return 0
	}
	val := m.values[m.index] % n
	m.index++
	return val
}

func TestGeneratorWithRandSource(t *testing.T) {
	gen := NewGenerator(&mockRandSource{values: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, gen.Generate())
		// The random tail repeats once the source is exhausted, so distinct
		// timestamps are what keeps these unique.
		time.Sleep(2 * time.Millisecond)
	}

	idMap := make(map[string]bool)
	for i, id := range ids {
		if err := Validate(id); err != nil {
			t.Errorf("id %d failed validation: %v", i, err)
		}
		if idMap[id] {
			t.Errorf("duplicate id generated: %s", id)
		}
		idMap[id] = true
	}
}

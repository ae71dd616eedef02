package policy

import "testing"

// TestCanRetrieve проверяет матрицу доступа приватность × аутентификация.
func TestCanRetrieve(t *testing.T) {
	tests := []struct {
		name          string
		isPrivate     bool
		authenticated bool
		want          bool
	}{
		{"публичный для анонима", false, false, true},
		{"публичный для аутентифицированного", false, true, true},
		{"приватный для анонима", true, false, false},
		{"приватный для аутентифицированного", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRetrieve(tt.isPrivate, tt.authenticated); got != tt.want {
				t.Errorf("CanRetrieve(%v, %v) = %v, ожидалось %v",
					tt.isPrivate, tt.authenticated, got, tt.want)
			}
		})
	}
}

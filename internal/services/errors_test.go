package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedAdd(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{"zero plus zero", 0, 0, 0, nil},
		{"simple", 40, 2, 42, nil},
		{"max plus zero", math.MaxUint64, 0, math.MaxUint64, nil},
		{"reaches max exactly", math.MaxUint64 - 1, 1, math.MaxUint64, nil},
		{"max plus one wraps", math.MaxUint64, 1, 0, ErrOverflow},
		{"both large", math.MaxUint64, math.MaxUint64, 0, ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkedAdd(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckedSub(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{"zero minus zero", 0, 0, 0, nil},
		{"simple", 42, 2, 40, nil},
		{"to zero exactly", 5, 5, 0, nil},
		{"zero minus one wraps", 0, 1, 0, ErrUnderflow},
		{"below zero", 3, 4, 0, ErrUnderflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checkedSub(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

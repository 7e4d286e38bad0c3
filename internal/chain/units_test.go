package chain

import (
	"math/big"
	"testing"
)

func TestToWei(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"0.01", "10000000000000000", false},
		{" 2.5 ", "2500000000000000000", false},
		{"0.000000000000000001", "1", false},
		{"0.0000000000000000001", "", true},
		{"-1", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		got, err := ToWei(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ToWei(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Errorf("ToWei(%q) = %v, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}

func TestFromWei(t *testing.T) {
	tests := map[string]*big.Int{
		"0":    nil,
		"1":    new(big.Int).Set(weiPerEther),
		"0.01": big.NewInt(1e16),
		"2.5":  big.NewInt(25e17),
		"-0.5": big.NewInt(-5e17),
	}
	for want, in := range tests {
		if got := FromWei(in); got != want {
			t.Errorf("FromWei(%v) = %q, want %q", in, got, want)
		}
	}
}

package models

import "testing"

func TestAvailableStock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stock    int
		reserved int
		want     int
	}{
		{name: "no reservations", stock: 10, reserved: 0, want: 10},
		{name: "partially reserved", stock: 10, reserved: 4, want: 6},
		{name: "fully reserved", stock: 2, reserved: 2, want: 0},
		{name: "over-reserved floors at zero", stock: 2, reserved: 5, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := ProductVariant{Stock: tc.stock, Reserved: tc.reserved}
			if got := v.AvailableStock(); got != tc.want {
				t.Errorf("AvailableStock() = %d, want %d", got, tc.want)
			}
		})
	}
}

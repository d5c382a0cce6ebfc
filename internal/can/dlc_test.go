package can

import "testing"

func TestDLCToBytesFD(t *testing.T) {
	want := []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
	for dlc, n := range want {
		if got := DLCToBytes(uint8(dlc), true); got != n {
			t.Errorf("DLCToBytes(%d, fd)=%d want %d", dlc, got, n)
		}
	}
}

func TestDLCToBytesClassic(t *testing.T) {
	for dlc := 0; dlc <= MaxDLC; dlc++ {
		want := uint8(dlc)
		if dlc > 8 {
			want = 8
		}
		if got := DLCToBytes(uint8(dlc), false); got != want {
			t.Errorf("DLCToBytes(%d, classic)=%d want %d", dlc, got, want)
		}
	}
}

func TestBytesToDLCRoundTrip(t *testing.T) {
	for dlc := 0; dlc <= MaxDLC; dlc++ {
		n := DLCToBytes(uint8(dlc), true)
		if got := BytesToDLC(n, true); got != uint8(dlc) {
			t.Errorf("BytesToDLC(DLCToBytes(%d))=%d", dlc, got)
		}
	}
}

func TestBytesToDLCRoundsUp(t *testing.T) {
	cases := []struct{ n, dlc uint8 }{
		{9, 9}, {11, 9}, {13, 10}, {17, 11}, {25, 13}, {33, 14}, {49, 15}, {64, 15}, {255, 15},
	}
	for _, c := range cases {
		if got := BytesToDLC(c.n, true); got != c.dlc {
			t.Errorf("BytesToDLC(%d, fd)=%d want %d", c.n, got, c.dlc)
		}
	}
	if got := BytesToDLC(200, false); got != 8 {
		t.Errorf("BytesToDLC(200, classic)=%d want 8", got)
	}
}

//go:build go1.18

package domain

import "testing"

// FuzzParsePublicKey tests that parsing never panics on arbitrary input and
// that every accepted key round-trips through its base58 form.
func FuzzParsePublicKey(f *testing.F) {
	f.Add("")
	f.Add("11111111111111111111111111111111")
	f.Add("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	f.Add("not-a-key")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		k, err := ParsePublicKey(input)
		if err != nil {
			return
		}
		roundTrip, err := ParsePublicKey(k.String())
		if err != nil {
			t.Errorf("valid key failed round-trip: %v", err)
		}
		if roundTrip != k {
			t.Error("round-trip changed key value")
		}
		if k.IsZero() {
			t.Error("zero key was accepted")
		}
	})
}

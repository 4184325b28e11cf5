package testing

import "math/rand"

// RandString generates a random 10-symbol string from the lower- and
// uppercase alphabet
func RandString() string {
	const charSet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	out := make([]byte, 10)
	for i := range out {
		out[i] = charSet[rand.Intn(len(charSet))]
	}
	return string(out)
}

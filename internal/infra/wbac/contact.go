package wbac

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Contact is the throwaway contact detail submitted to reveal a valuation.
type Contact struct {
	Email    string
	Postcode string
	Phone    string
}

var (
	firstNames = []string{"james", "oliver", "harry", "jack", "george", "amelia", "olivia", "emily", "sophie", "jessica"}
	lastNames  = []string{"smith", "jones", "taylor", "brown", "williams", "wilson", "johnson", "davies", "evans", "thomas"}
	domains    = []string{"gmail.com", "outlook.com", "yahoo.co.uk", "hotmail.co.uk"}
	// Outward codes of real UK postcode districts.
	outwardCodes = []string{"SW1A", "EC1A", "M1", "B33", "LS1", "G2", "CF10", "BS1", "NE1", "L1"}
)

const postcodeLetters = "ABDEFGHJLNPQRSTUWXYZ"

// RandomContact generates a plausible UK contact.
func RandomContact(rng *rand.Rand) Contact {
	first := firstNames[rng.IntN(len(firstNames))]
	last := lastNames[rng.IntN(len(lastNames))]

	return Contact{
		Email: fmt.Sprintf("%s.%s%d@%s", first, last, rng.IntN(9000)+100, domains[rng.IntN(len(domains))]),
		Postcode: fmt.Sprintf("%s %d%c%c",
			outwardCodes[rng.IntN(len(outwardCodes))],
			rng.IntN(10),
			postcodeLetters[rng.IntN(len(postcodeLetters))],
			postcodeLetters[rng.IntN(len(postcodeLetters))],
		),
		Phone: "07" + digits(rng, 9),
	}
}

func digits(rng *rand.Rand, n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(byte('0' + rng.IntN(10)))
	}
	return b.String()
}

package room

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RoomIDAlphabet keeps ids short and easy to read out loud.
const RoomIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// IDGenerator produces candidate room ids. The registry checks each
// candidate for collisions.
type IDGenerator func() (string, error)

// NanoIDGenerator returns uppercase base36 ids of the given length.
func NanoIDGenerator(length int) IDGenerator {
	return func() (string, error) {
		return gonanoid.Generate(RoomIDAlphabet, length)
	}
}

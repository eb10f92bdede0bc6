// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	sasMethod       = "m.sas.v1"
	keyAgreement    = "curve25519-hkdf-sha256"
	hashAlgorithm   = "sha256"
	macAlgorithm    = "hkdf-hmac-sha256.v2"
	sasInfoPrefix   = "MATRIX_KEY_VERIFICATION_SAS|"
	macInfoPrefix   = "MATRIX_KEY_VERIFICATION_MAC"
	sasByteCount    = 6
	emojiCount      = 7
	decimalCount    = 3
	decimalBaseline = 1000
)

// sasKeyPair is one side's ephemeral X25519 key pair for a single
// handshake.
type sasKeyPair struct {
	private [32]byte
	public  [32]byte
}

func generateKeyPair() (*sasKeyPair, error) {
	pair := &sasKeyPair{}
	if _, err := io.ReadFull(rand.Reader, pair.private[:]); err != nil {
		return nil, fmt.Errorf("verification: generating ephemeral key: %w", err)
	}
	public, err := curve25519.X25519(pair.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("verification: deriving public key: %w", err)
	}
	copy(pair.public[:], public)
	return pair, nil
}

func (p *sasKeyPair) publicKey() string {
	return base64.RawStdEncoding.EncodeToString(p.public[:])
}

// sharedSecret completes the Diffie-Hellman exchange with the
// counterpart's public key.
func (p *sasKeyPair) sharedSecret(theirPublicKey string) ([]byte, error) {
	theirPublic, err := base64.RawStdEncoding.DecodeString(theirPublicKey)
	if err != nil {
		return nil, fmt.Errorf("verification: decoding counterpart key: %w", err)
	}
	secret, err := curve25519.X25519(p.private[:], theirPublic)
	if err != nil {
		return nil, fmt.Errorf("verification: computing shared secret: %w", err)
	}
	return secret, nil
}

// sasInfo builds the HKDF info string binding the short authentication
// string to both identities and the transaction. The starting device's
// triple comes first.
func sasInfo(startUser, startDevice, startKey, otherUser, otherDevice, otherKey, transactionID string) string {
	return sasInfoPrefix +
		startUser + "|" + startDevice + "|" + startKey + "|" +
		otherUser + "|" + otherDevice + "|" + otherKey + "|" +
		transactionID
}

// deriveSASBytes expands the shared secret into the bytes the emoji
// and decimal representations are read from.
func deriveSASBytes(secret []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, sasByteCount)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("verification: deriving comparison bytes: %w", err)
	}
	return out, nil
}

// sasEmojis reads seven 6-bit indices from the first 42 bits.
func sasEmojis(sasBytes []byte) []Emoji {
	emojis := make([]Emoji, 0, emojiCount)
	for i := 0; i < emojiCount; i++ {
		bitOffset := i * 6
		byteIndex := bitOffset / 8
		shift := 10 - (bitOffset % 8)
		window := uint16(sasBytes[byteIndex]) << 8
		if byteIndex+1 < len(sasBytes) {
			window |= uint16(sasBytes[byteIndex+1])
		}
		index := (window >> shift) & 0x3F
		emojis = append(emojis, emojiTable[index])
	}
	return emojis
}

// sasDecimals reads three 13-bit numbers from the first 39 bits and
// offsets each into the 1000-9191 display range.
func sasDecimals(sasBytes []byte) []int {
	decimals := make([]int, 0, decimalCount)
	for i := 0; i < decimalCount; i++ {
		bitOffset := i * 13
		byteIndex := bitOffset / 8
		window := uint32(sasBytes[byteIndex]) << 16
		if byteIndex+1 < len(sasBytes) {
			window |= uint32(sasBytes[byteIndex+1]) << 8
		}
		if byteIndex+2 < len(sasBytes) {
			window |= uint32(sasBytes[byteIndex+2])
		}
		shift := 11 - (bitOffset % 8)
		decimals = append(decimals, int((window>>shift)&0x1FFF)+decimalBaseline)
	}
	return decimals
}

// calculateMAC keys an HMAC-SHA256 from the shared secret and the
// given info string, then authenticates the input. Output is unpadded
// base64 per the hkdf-hmac-sha256.v2 algorithm.
func calculateMAC(secret []byte, input, info string) (string, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return "", fmt.Errorf("verification: deriving mac key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(input))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// macInfo binds a MAC to the sending device, receiving device,
// transaction, and the key being authenticated.
func macInfo(senderUser, senderDevice, receiverUser, receiverDevice, transactionID, keyID string) string {
	return macInfoPrefix + senderUser + senderDevice + receiverUser + receiverDevice + transactionID + keyID
}

// commitment hashes the canonical start event content so the accepting
// side can prove it did not choose its key after seeing ours.
func commitment(publicKey string, startCanonical []byte) string {
	sum := sha256.Sum256(append([]byte(publicKey), startCanonical...))
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

// canonicalJSON produces the Matrix canonical form: keys sorted, no
// insignificant whitespace. Unmarshalling into a map and re-marshalling
// does both, since encoding/json sorts map keys and emits compact
// output.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("verification: canonical json: %w", err)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("verification: canonical json: %w", err)
	}
	return encoded, nil
}

// emojiTable is the fixed 64-entry table shared by all Matrix clients;
// both devices index into the same table so the pictures line up.
var emojiTable = [64]Emoji{
	{"🐶", "Dog"}, {"🐱", "Cat"}, {"🦁", "Lion"}, {"🐎", "Horse"},
	{"🦄", "Unicorn"}, {"🐷", "Pig"}, {"🐘", "Elephant"}, {"🐰", "Rabbit"},
	{"🐼", "Panda"}, {"🐓", "Rooster"}, {"🐧", "Penguin"}, {"🐢", "Turtle"},
	{"🐟", "Fish"}, {"🐙", "Octopus"}, {"🦋", "Butterfly"}, {"🌷", "Flower"},
	{"🌳", "Tree"}, {"🌵", "Cactus"}, {"🍄", "Mushroom"}, {"🌏", "Globe"},
	{"🌙", "Moon"}, {"☁️", "Cloud"}, {"🔥", "Fire"}, {"🍌", "Banana"},
	{"🍎", "Apple"}, {"🍓", "Strawberry"}, {"🌽", "Corn"}, {"🍕", "Pizza"},
	{"🎂", "Cake"}, {"❤️", "Heart"}, {"😀", "Smiley"}, {"🤖", "Robot"},
	{"🎩", "Hat"}, {"👓", "Glasses"}, {"🔧", "Spanner"}, {"🎅", "Santa"},
	{"👍", "Thumbs Up"}, {"☂️", "Umbrella"}, {"⌛", "Hourglass"}, {"⏰", "Clock"},
	{"🎁", "Gift"}, {"💡", "Light Bulb"}, {"📕", "Book"}, {"✏️", "Pencil"},
	{"📎", "Paperclip"}, {"✂️", "Scissors"}, {"🔒", "Lock"}, {"🔑", "Key"},
	{"🔨", "Hammer"}, {"☎️", "Telephone"}, {"🏁", "Flag"}, {"🚂", "Train"},
	{"🚲", "Bicycle"}, {"✈️", "Aeroplane"}, {"🚀", "Rocket"}, {"🏆", "Trophy"},
	{"⚽", "Ball"}, {"🎸", "Guitar"}, {"🎺", "Trumpet"}, {"🔔", "Bell"},
	{"⚓", "Anchor"}, {"🎧", "Headphones"}, {"📁", "Folder"}, {"📌", "Pin"},
}

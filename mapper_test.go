package eventsourcing_test

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/ParikhKadam/eventsourcing"
)

func TestMapperRoundTrips(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 32)

	chacha, err := eventsourcing.NewChaCha20Poly1305Cipher(key)
	if err != nil {
		t.Fatal(err)
	}

	gcm, err := eventsourcing.NewAESGCMCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name       string
		compressor eventsourcing.Compressor
		cipher     eventsourcing.Cipher
	}{
		{name: "plain"},
		{name: "zstd", compressor: eventsourcing.NewZstdCompressor()},
		{name: "chacha", cipher: chacha},
		{name: "aes-gcm", cipher: gcm},
		{name: "zstd+chacha", compressor: eventsourcing.NewZstdCompressor(), cipher: chacha},
		{name: "zstd+aes-gcm", compressor: eventsourcing.NewZstdCompressor(), cipher: gcm},
	}

	evt := SomeEvent{
		UserID: "user-123",
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := eventsourcing.NewMapper(
				eventsourcing.NewJSONTranscoder(SomeEvent{}),
				tc.compressor,
				tc.cipher,
			)

			encoded, err := m.Encode(evt)
			if err != nil {
				t.Fatal(err)
			}

			decoded, err := m.Decode(encoded)
			if err != nil {
				t.Fatal(err)
			}

			if !reflect.DeepEqual(evt, decoded) {
				t.Fatalf("event not mapped back. want: %#v, got: %#v", evt, decoded)
			}
		})
	}
}

func TestMapperDetectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 32)

	chacha, err := eventsourcing.NewChaCha20Poly1305Cipher(key)
	if err != nil {
		t.Fatal(err)
	}

	m := eventsourcing.NewMapper(
		eventsourcing.NewJSONTranscoder(SomeEvent{}),
		nil,
		chacha,
	)

	encoded, err := m.Encode(SomeEvent{UserID: "user-123"})
	if err != nil {
		t.Fatal(err)
	}

	for i := range encoded.Data {
		tampered := make([]byte, len(encoded.Data))

		copy(tampered, encoded.Data)

		tampered[i] ^= 0x01

		_, err = m.Decode(&eventsourcing.EncodedEvt{
			Topic: encoded.Topic,
			Data:  tampered,
		})

		if !errors.Is(err, eventsourcing.ErrIntegrityCheckFailed) {
			t.Fatalf("tampered byte %d should fail integrity check. got: %v", i, err)
		}
	}
}

func TestMapperRejectsTruncatedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 32)

	gcm, err := eventsourcing.NewAESGCMCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	_, err = gcm.Decrypt([]byte("short"))

	if !errors.Is(err, eventsourcing.ErrIntegrityCheckFailed) {
		t.Fatalf("truncated ciphertext should fail integrity check. got: %v", err)
	}
}

func TestZstdDecompressFailsForCorruptPayload(t *testing.T) {
	c := eventsourcing.NewZstdCompressor()

	_, err := c.Decompress([]byte("not-zstd"))

	if !errors.Is(err, eventsourcing.ErrTranscodingFailed) {
		t.Fatalf("should fail with transcoding error. got: %v", err)
	}
}

func TestCipherKeyLengthIsValidated(t *testing.T) {
	cases := []struct {
		name string
		make func([]byte) (*eventsourcing.AEADCipher, error)
		size int
	}{
		{name: "chacha", make: eventsourcing.NewChaCha20Poly1305Cipher, size: 5},
		{name: "aes-gcm", make: eventsourcing.NewAESGCMCipher, size: 5},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s key size %d", tc.name, tc.size), func(t *testing.T) {
			_, err := tc.make(make([]byte, tc.size))
			if err == nil {
				t.Fatal("key length should have been validated")
			}
		})
	}
}

package eventsourcing

// Compressor compresses encoded payloads before they are persisted.
// Compression is purely a size optimization and must not affect the
// logical round trip
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

// Cipher encrypts encoded payloads before they are persisted.
// Implementations must be authenticated - Decrypt has to fail with
// ErrIntegrityCheckFailed for any tampered ciphertext instead of
// returning corrupted data
type Cipher interface {
	Encrypt([]byte) ([]byte, error)
	Decrypt([]byte) ([]byte, error)
}

// NewMapper constructs a Mapper which wraps the provided transcoder with
// optional compression and encryption stages. Either stage may be nil in
// which case it is skipped. Encode applies transcode, compress, encrypt
// in that order and Decode applies the exact inverse
func NewMapper(transcoder Transcoder, compressor Compressor, cipher Cipher) *Mapper {
	return &Mapper{
		transcoder: transcoder,
		compressor: compressor,
		cipher:     cipher,
	}
}

// Mapper maps domain event and snapshot values to their persisted payload
// representation and back. It owns no persistent state
type Mapper struct {
	transcoder Transcoder
	compressor Compressor
	cipher     Cipher
}

// Encode maps a value to its persisted representation
func (m *Mapper) Encode(v any) (*EncodedEvt, error) {
	evt, err := m.transcoder.Encode(v)
	if err != nil {
		return nil, err
	}

	data := evt.Data

	if m.compressor != nil {
		data, err = m.compressor.Compress(data)
		if err != nil {
			return nil, err
		}
	}

	if m.cipher != nil {
		data, err = m.cipher.Encrypt(data)
		if err != nil {
			return nil, err
		}
	}

	return &EncodedEvt{
		Topic: evt.Topic,
		Data:  data,
	}, nil
}

// Decode maps a persisted representation back to its typed value
func (m *Mapper) Decode(evt *EncodedEvt) (any, error) {
	data := evt.Data

	var err error

	if m.cipher != nil {
		data, err = m.cipher.Decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	if m.compressor != nil {
		data, err = m.compressor.Decompress(data)
		if err != nil {
			return nil, err
		}
	}

	return m.transcoder.Decode(&EncodedEvt{
		Topic: evt.Topic,
		Data:  data,
	})
}

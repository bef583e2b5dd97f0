package packets

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/SgtCoDFish/PlayPG/internal/core/bytes"
)

// ErrMalformed is returned when a peer sends an unknown opcode or a body that
// cannot be decoded. The connection's byte stream is in an unknown state after
// this error.
var ErrMalformed = errors.New("malformed packet")

// Marshal serializes p, including its opcode.
func Marshal(p Packet) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.PutUint16(uint16(p.Opcode()))

	switch pkt := p.(type) {
	case *VersionMismatch, *MalformedPacket, *RequestCharacters, *MapServerNotNeeded, *MapServerAck:
		// Opcode only.
	case *CharacterSelect:
		buf.PutUint64(pkt.CharacterID)
	case *MapServerRegistrationRequest:
		if err := buf.PutString(pkt.Name); err != nil {
			return nil, fmt.Errorf("encoding map server name: %w", err)
		}
		if err := buf.PutString(pkt.Address); err != nil {
			return nil, fmt.Errorf("encoding map server address: %w", err)
		}
		buf.PutUint16(pkt.Port)
	default:
		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding %v: %w", p.Opcode(), err)
		}
		if err := buf.PutPrefixed(body); err != nil {
			return nil, fmt.Errorf("encoding %v: %w", p.Opcode(), err)
		}
	}

	return buf.Bytes(), nil
}

// Read consumes exactly one packet from r. Errors from r are returned wrapped
// as-is so that callers can tell a dead connection apart from ErrMalformed.
func Read(r io.Reader) (Packet, error) {
	sr := streamReader{r: r}

	raw, err := sr.readUint16()
	if err != nil {
		return nil, err
	}

	op := Opcode(raw)
	switch op {
	case VersionMismatchType:
		return &VersionMismatch{}, nil
	case MalformedPacketType:
		return &MalformedPacket{}, nil
	case RequestCharactersType:
		return &RequestCharacters{}, nil
	case MapServerNotNeededType:
		return &MapServerNotNeeded{}, nil
	case MapServerAckType:
		return &MapServerAck{}, nil
	case CharacterSelectType:
		id, err := sr.readUint64()
		if err != nil {
			return nil, err
		}
		return &CharacterSelect{CharacterID: id}, nil
	case MapServerRegistrationRequestType:
		req, err := sr.registrationRequest()
		if err != nil {
			return nil, err
		}
		return req, nil
	}

	pkt := newJSONPacket(op)
	if pkt == nil {
		return nil, fmt.Errorf("%w: unexpected opcode %v", ErrMalformed, op)
	}

	body, err := sr.readPrefixed()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, pkt); err != nil {
		return nil, fmt.Errorf("%w: decoding %v body: %v", ErrMalformed, op, err)
	}
	return pkt, nil
}

// Unmarshal decodes a single packet held entirely in data.
func Unmarshal(data []byte) (Packet, error) {
	buf := bytes.NewBuffer(data)
	pkt, err := Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated packet", ErrMalformed)
		}
		return nil, err
	}
	if buf.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %v", ErrMalformed, buf.Remaining(), pkt.Opcode())
	}
	return pkt, nil
}

// Split decodes the packet at the start of data and reports how many bytes it
// used. When data holds only part of a packet, Split returns a nil packet and
// no error.
func Split(data []byte) (Packet, int, error) {
	buf := bytes.NewBuffer(data)
	pkt, err := Read(buf)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return nil, 0, nil
	case err != nil:
		return nil, 0, err
	}
	return pkt, len(data) - buf.Remaining(), nil
}

func newJSONPacket(op Opcode) Packet {
	switch op {
	case LoginAuthenticationIdentityType:
		return &LoginAuthenticationIdentity{}
	case LoginAuthenticationChallengeType:
		return &LoginAuthenticationChallenge{}
	case LoginAuthenticationResponseType:
		return &LoginAuthenticationResponse{}
	case MapServerRegistrationResponseType:
		return &MapServerRegistrationResponse{}
	case MapServerMapListType:
		return &MapServerMapList{}
	case MapServerConnectionInstructionsType:
		return &MapServerConnectionInstructions{}
	case PlayerCharactersType:
		return &PlayerCharacters{}
	case NoMapServerErrorType:
		return &NoMapServerError{}
	}
	return nil
}

type streamReader struct {
	r       io.Reader
	scratch [8]byte
}

func (s *streamReader) readUint16() (uint16, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(s.scratch[:2]), nil
}

func (s *streamReader) readUint64() (uint64, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(s.scratch[:8]), nil
}

func (s *streamReader) readPrefixed() ([]byte, error) {
	n, err := s.readUint16()
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *streamReader) registrationRequest() (*MapServerRegistrationRequest, error) {
	name, err := s.readPrefixed()
	if err != nil {
		return nil, err
	}
	address, err := s.readPrefixed()
	if err != nil {
		return nil, err
	}
	port, err := s.readUint16()
	if err != nil {
		return nil, err
	}
	if len(name) == 0 || len(address) == 0 || port == 0 {
		return nil, fmt.Errorf("%w: incomplete map server registration", ErrMalformed)
	}
	return &MapServerRegistrationRequest{
		Name:    string(name),
		Address: string(address),
		Port:    port,
	}, nil
}

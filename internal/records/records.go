// Package records encodes the values kept in the token store.
//
// Every record starts with a version byte followed by big-endian fixed-width
// fields and uint16 length-prefixed strings.
package records

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	codeRecordVersion1      = 1
	challengeRecordVersion1 = 1
	rateWindowVersion1      = 1
)

var (
	ErrInvalidVersion = errors.New("record version not supported")
	ErrFieldTooLong   = errors.New("record field length exceeded")
)

// Code is an issued one-time code. Only the hash of the code is kept.
// Email carries the destination address the code was sent to.
type Code struct {
	CodeHash string
	Email    string
	IssuedAt int64
}

// Challenge is the pending second step of a sign-in.
type Challenge struct {
	ChallengeID string
	Method      uint8
	RememberMe  bool
	ReturnURL   string
}

// RateWindow is the state of a send limiter.
type RateWindow struct {
	Attempts    uint32
	LastAttempt int64
}

func EncodeCode(record *Code) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.CodeHash); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Email); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeCode(data []byte) (*Code, error) {
	reader := bytes.NewReader(data)
	if err := readVersion(reader, codeRecordVersion1); err != nil {
		return nil, err
	}

	record := &Code{}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	var err error
	if record.CodeHash, err = readString(reader); err != nil {
		return nil, err
	}
	if record.Email, err = readString(reader); err != nil {
		return nil, err
	}
	return record, nil
}

func EncodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(record.Method)
	if record.RememberMe {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := writeString(&buf, record.ChallengeID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.ReturnURL); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)
	if err := readVersion(reader, challengeRecordVersion1); err != nil {
		return nil, err
	}

	record := &Challenge{}
	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Method = method
	remember, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.RememberMe = remember == 1

	if record.ChallengeID, err = readString(reader); err != nil {
		return nil, err
	}
	if record.ReturnURL, err = readString(reader); err != nil {
		return nil, err
	}
	return record, nil
}

func EncodeRateWindow(record *RateWindow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(rateWindowVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.LastAttempt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRateWindow(data []byte) (*RateWindow, error) {
	reader := bytes.NewReader(data)
	if err := readVersion(reader, rateWindowVersion1); err != nil {
		return nil, err
	}

	record := &RateWindow{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.LastAttempt); err != nil {
		return nil, err
	}
	return record, nil
}

func readVersion(reader *bytes.Reader, want byte) error {
	version, err := reader.ReadByte()
	if err != nil {
		return err
	}
	if version != want {
		return ErrInvalidVersion
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return ErrFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}

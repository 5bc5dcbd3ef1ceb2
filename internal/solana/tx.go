package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// systemTransfer is the System Program instruction index for Transfer.
const systemTransfer uint32 = 2

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrNotSigner            = errors.New("key is not a required signer")
	ErrUnsigned             = errors.New("transaction is missing signatures")
)

// MessageHeader counts the signer and read-only accounts of a message.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references its program and accounts by index into
// the message's account keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// Transaction is a message plus one signature slot per required signer.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransfer builds an unsigned System Program transfer of lamports from
// from to to, anchored at blockhash. The payer is the sole signer.
func NewTransfer(from, to PublicKey, lamports uint64, blockhash Hash) (*Transaction, error) {
	if from == to {
		return nil, fmt.Errorf("%w: sender and receiver are the same account", ErrMalformedTransaction)
	}
	if lamports == 0 {
		return nil, fmt.Errorf("%w: zero lamports", ErrMalformedTransaction)
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return &Transaction{
		Signatures: make([]Signature, 1),
		Message: Message{
			Header: MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlySignedAccounts:   0,
				NumReadonlyUnsignedAccounts: 1,
			},
			AccountKeys:     []PublicKey{from, to, SystemProgramID},
			RecentBlockhash: blockhash,
			Instructions: []CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint8{0, 1}, Data: data},
			},
		},
	}, nil
}

// Serialize encodes the message in the legacy wire format. These are the
// bytes that signers sign.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)

	writeCompactU16(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])

	writeCompactU16(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeCompactU16(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// Signers returns the accounts that must sign, in signature order.
func (m *Message) Signers() []PublicKey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return m.AccountKeys[:n]
}

// Sign fills the signature slot belonging to key's public half.
func (t *Transaction) Sign(key ed25519.PrivateKey) error {
	var pub PublicKey
	copy(pub[:], key.Public().(ed25519.PublicKey))

	for i, signer := range t.Message.Signers() {
		if signer != pub {
			continue
		}
		if len(t.Signatures) != int(t.Message.Header.NumRequiredSignatures) {
			t.Signatures = make([]Signature, t.Message.Header.NumRequiredSignatures)
		}
		copy(t.Signatures[i][:], ed25519.Sign(key, t.Message.Serialize()))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotSigner, pub)
}

// Verify reports whether every required signature is present and valid.
func (t *Transaction) Verify() bool {
	signers := t.Message.Signers()
	if len(t.Signatures) != len(signers) {
		return false
	}
	msg := t.Message.Serialize()
	for i, signer := range signers {
		if t.Signatures[i].IsZero() || !ed25519.Verify(signer[:], msg, t.Signatures[i][:]) {
			return false
		}
	}
	return true
}

// Signature returns the transaction's identifying (first) signature.
func (t *Transaction) Signature() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}

// Serialize encodes the full signed transaction.
func (t *Transaction) Serialize() ([]byte, error) {
	if len(t.Signatures) != int(t.Message.Header.NumRequiredSignatures) {
		return nil, ErrUnsigned
	}
	for _, s := range t.Signatures {
		if s.IsZero() {
			return nil, ErrUnsigned
		}
	}
	var buf bytes.Buffer
	writeCompactU16(&buf, len(t.Signatures))
	for _, s := range t.Signatures {
		buf.Write(s[:])
	}
	buf.Write(t.Message.Serialize())
	return buf.Bytes(), nil
}

// Base64 returns the wire encoding submitted to sendTransaction.
func (t *Transaction) Base64() (string, error) {
	raw, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Transfer describes a decoded System Program transfer.
type Transfer struct {
	From     PublicKey
	To       PublicKey
	Lamports uint64
}

// Transfer extracts the System Program transfer from a single-instruction
// transaction.
func (t *Transaction) Transfer() (Transfer, bool) {
	m := t.Message
	if len(m.Instructions) != 1 {
		return Transfer{}, false
	}
	ix := m.Instructions[0]
	if int(ix.ProgramIDIndex) >= len(m.AccountKeys) || m.AccountKeys[ix.ProgramIDIndex] != SystemProgramID {
		return Transfer{}, false
	}
	if len(ix.Accounts) != 2 || len(ix.Data) != 12 || binary.LittleEndian.Uint32(ix.Data[:4]) != systemTransfer {
		return Transfer{}, false
	}
	for _, a := range ix.Accounts {
		if int(a) >= len(m.AccountKeys) {
			return Transfer{}, false
		}
	}
	return Transfer{
		From:     m.AccountKeys[ix.Accounts[0]],
		To:       m.AccountKeys[ix.Accounts[1]],
		Lamports: binary.LittleEndian.Uint64(ix.Data[4:]),
	}, true
}

// DecodeTransaction parses a serialized legacy transaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)

	nsig, err := readCompactU16(r)
	if err != nil {
		return nil, err
	}
	if nsig*SignatureSize > r.Len() {
		return nil, fmt.Errorf("%w: truncated", ErrMalformedTransaction)
	}
	tx := &Transaction{Signatures: make([]Signature, nsig)}
	for i := range tx.Signatures {
		if err := readFull(r, tx.Signatures[i][:]); err != nil {
			return nil, err
		}
	}

	var header [3]byte
	if err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	tx.Message.Header = MessageHeader{header[0], header[1], header[2]}

	nkeys, err := readCompactU16(r)
	if err != nil {
		return nil, err
	}
	if nkeys*PublicKeySize > r.Len() {
		return nil, fmt.Errorf("%w: truncated", ErrMalformedTransaction)
	}
	tx.Message.AccountKeys = make([]PublicKey, nkeys)
	for i := range tx.Message.AccountKeys {
		if err := readFull(r, tx.Message.AccountKeys[i][:]); err != nil {
			return nil, err
		}
	}
	if err := readFull(r, tx.Message.RecentBlockhash[:]); err != nil {
		return nil, err
	}

	nix, err := readCompactU16(r)
	if err != nil {
		return nil, err
	}
	tx.Message.Instructions = make([]CompiledInstruction, nix)
	for i := range tx.Message.Instructions {
		ix := &tx.Message.Instructions[i]
		if ix.ProgramIDIndex, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
		}
		n, err := readCompactU16(r)
		if err != nil {
			return nil, err
		}
		ix.Accounts = make([]uint8, n)
		if err := readFull(r, ix.Accounts); err != nil {
			return nil, err
		}
		if n, err = readCompactU16(r); err != nil {
			return nil, err
		}
		ix.Data = make([]byte, n)
		if err := readFull(r, ix.Data); err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Len())
	}
	if int(tx.Message.Header.NumRequiredSignatures) != len(tx.Signatures) {
		return nil, fmt.Errorf("%w: signature count mismatch", ErrMalformedTransaction)
	}
	return tx, nil
}

// DecodeTransactionBase64 parses the sendTransaction wire encoding.
func DecodeTransactionBase64(s string) (*Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	return DecodeTransaction(raw)
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readCompactU16(r *bytes.Reader) (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: truncated length", ErrMalformedTransaction)
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > 0xffff {
				break
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: length overflows compact-u16", ErrMalformedTransaction)
}

func readFull(r *bytes.Reader, dst []byte) error {
	if r.Len() < len(dst) {
		return fmt.Errorf("%w: truncated", ErrMalformedTransaction)
	}
	_, err := r.Read(dst)
	return err
}

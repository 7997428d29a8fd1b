package models

import (
	"encoding/binary"
	"fmt"

	"github.com/agent-trust/registry/internal/address"
)

// Maximum encoded sizes. Fixed-width numeric fields are little-endian,
// strings and blobs carry a u32 length prefix, and every record opens with
// its type discriminator.
const (
	MetadataEntryMaxSize     = 4 + MaxMetadataKey + 4 + MaxMetadataValue
	RegistryConfigSize       = 1 + 32 + 8 + 8
	AgentMaxSize             = 1 + 8 + 32 + 32 + 4 + MaxURILength + 4 + MaxMetadataCount*MetadataEntryMaxSize + 8
	MetadataExtensionMaxSize = 1 + 32 + 1 + 4 + MaxMetadataCount*MetadataEntryMaxSize
	ClientSequenceSize       = 1 + 8 + 32 + 8
	FeedbackRecordMaxSize    = 1 + 8 + 32 + 8 + 1 + TagSize + TagSize + 4 + MaxURILength + HashSize + 1 + 8
	ReputationAggregateSize  = 1 + 8 + 8 + 8 + 1 + 8
	ResponseSequenceSize     = 1 + 8 + 32 + 8 + 8
	ResponseRecordMaxSize    = 1 + 8 + 32 + 8 + 8 + 32 + 4 + MaxURILength + HashSize + 8
	ValidationConfigSize     = 1 + 32 + 32 + 8 + 8
	ValidationRequestSize    = 1 + 8 + 32 + 4 + HashSize + HashSize + 1 + 8 + 8
	TokenRecordSize          = 1 + 32 + 32 + 1
	AgentPointerSize         = 1 + 32
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) fixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) bytes(b []byte, max int, field string) error {
	if len(b) > max {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", field, max)
	}
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *encoder) entries(entries []MetadataEntry) error {
	if len(entries) > MaxMetadataCount {
		return fmt.Errorf("metadata exceeds maximum of %d entries", MaxMetadataCount)
	}
	e.u32(uint32(len(entries)))
	for _, entry := range entries {
		if err := e.bytes([]byte(entry.Key), MaxMetadataKey, "metadata key"); err != nil {
			return err
		}
		if err := e.bytes(entry.Value, MaxMetadataValue, "metadata value"); err != nil {
			return err
		}
	}
	return nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remain() int { return len(d.buf) - d.off }

func (d *decoder) u8() (uint8, error) {
	if d.remain() < 1 {
		return 0, fmt.Errorf("record truncated at offset %d", d.off)
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remain() < 4 {
		return 0, fmt.Errorf("record truncated at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remain() < 8 {
		return 0, fmt.Errorf("record truncated at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) boolean() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if d.remain() < n {
		return nil, fmt.Errorf("record truncated at offset %d", d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) addr() (address.Address, error) {
	var a address.Address
	b, err := d.fixed(address.Size)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (d *decoder) bytes(max int) ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > max {
		return nil, fmt.Errorf("length prefix %d exceeds declared maximum %d", n, max)
	}
	b, err := d.fixed(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *decoder) entries() ([]MetadataEntry, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxMetadataCount {
		return nil, fmt.Errorf("metadata count %d exceeds maximum %d", n, MaxMetadataCount)
	}
	entries := make([]MetadataEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		key, err := d.bytes(MaxMetadataKey)
		if err != nil {
			return nil, err
		}
		value, err := d.bytes(MaxMetadataValue)
		if err != nil {
			return nil, err
		}
		entries = append(entries, MetadataEntry{Key: string(key), Value: value})
	}
	return entries, nil
}

func (d *decoder) discriminator(want byte) error {
	got, err := d.u8()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("record type mismatch: got 0x%02x, want 0x%02x", got, want)
	}
	return nil
}

// Marshal encodes the config into its fixed layout
func (c *RegistryConfig) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, RegistryConfigSize)}
	e.u8(TypeRegistryConfig)
	e.fixed(c.Authority[:])
	e.u64(c.NextAgentID)
	e.u64(c.TotalAgents)
	return e.buf, nil
}

// DecodeRegistryConfig decodes a registry config record
func DecodeRegistryConfig(raw []byte) (*RegistryConfig, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeRegistryConfig); err != nil {
		return nil, err
	}
	var c RegistryConfig
	var err error
	if c.Authority, err = d.addr(); err != nil {
		return nil, err
	}
	if c.NextAgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if c.TotalAgents, err = d.u64(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal encodes the agent into its fixed layout
func (a *Agent) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, AgentMaxSize)}
	e.u8(TypeAgent)
	e.u64(a.AgentID)
	e.fixed(a.Owner[:])
	e.fixed(a.Mint[:])
	if err := e.bytes([]byte(a.TokenURI), MaxURILength, "token URI"); err != nil {
		return nil, err
	}
	if err := e.entries(a.Metadata); err != nil {
		return nil, err
	}
	e.i64(a.CreatedAt)
	return e.buf, nil
}

// DecodeAgent decodes an agent record
func DecodeAgent(raw []byte) (*Agent, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeAgent); err != nil {
		return nil, err
	}
	var a Agent
	var err error
	if a.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if a.Owner, err = d.addr(); err != nil {
		return nil, err
	}
	if a.Mint, err = d.addr(); err != nil {
		return nil, err
	}
	uri, err := d.bytes(MaxURILength)
	if err != nil {
		return nil, err
	}
	a.TokenURI = string(uri)
	if a.Metadata, err = d.entries(); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = d.i64(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Marshal encodes the extension into its fixed layout
func (x *MetadataExtension) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, MetadataExtensionMaxSize)}
	e.u8(TypeMetadataExtension)
	e.fixed(x.Mint[:])
	e.u8(x.ExtensionIndex)
	if err := e.entries(x.Metadata); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// DecodeMetadataExtension decodes a metadata extension record
func DecodeMetadataExtension(raw []byte) (*MetadataExtension, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeMetadataExtension); err != nil {
		return nil, err
	}
	var x MetadataExtension
	var err error
	if x.Mint, err = d.addr(); err != nil {
		return nil, err
	}
	if x.ExtensionIndex, err = d.u8(); err != nil {
		return nil, err
	}
	if x.Metadata, err = d.entries(); err != nil {
		return nil, err
	}
	return &x, nil
}

// Marshal encodes the sequence into its fixed layout
func (s *ClientSequence) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ClientSequenceSize)}
	e.u8(TypeClientSequence)
	e.u64(s.AgentID)
	e.fixed(s.Client[:])
	e.u64(s.LastIndex)
	return e.buf, nil
}

// DecodeClientSequence decodes a client sequence record
func DecodeClientSequence(raw []byte) (*ClientSequence, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeClientSequence); err != nil {
		return nil, err
	}
	var s ClientSequence
	var err error
	if s.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if s.Client, err = d.addr(); err != nil {
		return nil, err
	}
	if s.LastIndex, err = d.u64(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the feedback into its fixed layout
func (f *FeedbackRecord) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, FeedbackRecordMaxSize)}
	e.u8(TypeFeedbackRecord)
	e.u64(f.AgentID)
	e.fixed(f.Client[:])
	e.u64(f.FeedbackIndex)
	e.u8(f.Score)
	e.fixed(f.Tag1[:])
	e.fixed(f.Tag2[:])
	if err := e.bytes([]byte(f.FileURI), MaxURILength, "file URI"); err != nil {
		return nil, err
	}
	e.fixed(f.FileHash[:])
	e.boolean(f.IsRevoked)
	e.i64(f.CreatedAt)
	return e.buf, nil
}

// DecodeFeedbackRecord decodes a feedback record
func DecodeFeedbackRecord(raw []byte) (*FeedbackRecord, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeFeedbackRecord); err != nil {
		return nil, err
	}
	var f FeedbackRecord
	var err error
	if f.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if f.Client, err = d.addr(); err != nil {
		return nil, err
	}
	if f.FeedbackIndex, err = d.u64(); err != nil {
		return nil, err
	}
	if f.Score, err = d.u8(); err != nil {
		return nil, err
	}
	tag1, err := d.fixed(TagSize)
	if err != nil {
		return nil, err
	}
	copy(f.Tag1[:], tag1)
	tag2, err := d.fixed(TagSize)
	if err != nil {
		return nil, err
	}
	copy(f.Tag2[:], tag2)
	uri, err := d.bytes(MaxURILength)
	if err != nil {
		return nil, err
	}
	f.FileURI = string(uri)
	hash, err := d.fixed(HashSize)
	if err != nil {
		return nil, err
	}
	copy(f.FileHash[:], hash)
	if f.IsRevoked, err = d.boolean(); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = d.i64(); err != nil {
		return nil, err
	}
	return &f, nil
}

// SigningMessage returns the canonical byte message covered by the grant's
// signature: a domain tag followed by the grant fields in their fixed
// little-endian layout.
func (a *FeedbackAuth) SigningMessage() []byte {
	e := &encoder{buf: make([]byte, 0, 13+8+32+8+8+32)}
	e.fixed([]byte("feedback_auth"))
	e.u64(a.AgentID)
	e.fixed(a.Client[:])
	e.u64(a.IndexLimit)
	e.i64(a.Expiry)
	e.fixed(a.Signer[:])
	return e.buf
}

// Marshal encodes the aggregate into its fixed layout
func (r *ReputationAggregate) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ReputationAggregateSize)}
	e.u8(TypeReputationAggregate)
	e.u64(r.AgentID)
	e.u64(r.TotalFeedbacks)
	e.u64(r.TotalScoreSum)
	e.u8(r.AverageScore)
	e.i64(r.LastUpdated)
	return e.buf, nil
}

// DecodeReputationAggregate decodes a reputation aggregate record
func DecodeReputationAggregate(raw []byte) (*ReputationAggregate, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeReputationAggregate); err != nil {
		return nil, err
	}
	var r ReputationAggregate
	var err error
	if r.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if r.TotalFeedbacks, err = d.u64(); err != nil {
		return nil, err
	}
	if r.TotalScoreSum, err = d.u64(); err != nil {
		return nil, err
	}
	if r.AverageScore, err = d.u8(); err != nil {
		return nil, err
	}
	if r.LastUpdated, err = d.i64(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the sequence into its fixed layout
func (s *ResponseSequence) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ResponseSequenceSize)}
	e.u8(TypeResponseSequence)
	e.u64(s.AgentID)
	e.fixed(s.Client[:])
	e.u64(s.FeedbackIndex)
	e.u64(s.NextIndex)
	return e.buf, nil
}

// DecodeResponseSequence decodes a response sequence record
func DecodeResponseSequence(raw []byte) (*ResponseSequence, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeResponseSequence); err != nil {
		return nil, err
	}
	var s ResponseSequence
	var err error
	if s.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if s.Client, err = d.addr(); err != nil {
		return nil, err
	}
	if s.FeedbackIndex, err = d.u64(); err != nil {
		return nil, err
	}
	if s.NextIndex, err = d.u64(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the response into its fixed layout
func (r *ResponseRecord) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ResponseRecordMaxSize)}
	e.u8(TypeResponseRecord)
	e.u64(r.AgentID)
	e.fixed(r.Client[:])
	e.u64(r.FeedbackIndex)
	e.u64(r.ResponseIndex)
	e.fixed(r.Responder[:])
	if err := e.bytes([]byte(r.ResponseURI), MaxURILength, "response URI"); err != nil {
		return nil, err
	}
	e.fixed(r.ResponseHash[:])
	e.i64(r.CreatedAt)
	return e.buf, nil
}

// DecodeResponseRecord decodes a response record
func DecodeResponseRecord(raw []byte) (*ResponseRecord, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeResponseRecord); err != nil {
		return nil, err
	}
	var r ResponseRecord
	var err error
	if r.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if r.Client, err = d.addr(); err != nil {
		return nil, err
	}
	if r.FeedbackIndex, err = d.u64(); err != nil {
		return nil, err
	}
	if r.ResponseIndex, err = d.u64(); err != nil {
		return nil, err
	}
	if r.Responder, err = d.addr(); err != nil {
		return nil, err
	}
	uri, err := d.bytes(MaxURILength)
	if err != nil {
		return nil, err
	}
	r.ResponseURI = string(uri)
	hash, err := d.fixed(HashSize)
	if err != nil {
		return nil, err
	}
	copy(r.ResponseHash[:], hash)
	if r.CreatedAt, err = d.i64(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the config into its fixed layout
func (c *ValidationConfig) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ValidationConfigSize)}
	e.u8(TypeValidationConfig)
	e.fixed(c.Authority[:])
	e.fixed(c.IdentityLedger[:])
	e.u64(c.TotalRequests)
	e.u64(c.TotalResponses)
	return e.buf, nil
}

// DecodeValidationConfig decodes a validation config record
func DecodeValidationConfig(raw []byte) (*ValidationConfig, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeValidationConfig); err != nil {
		return nil, err
	}
	var c ValidationConfig
	var err error
	if c.Authority, err = d.addr(); err != nil {
		return nil, err
	}
	ref, err := d.fixed(address.Size)
	if err != nil {
		return nil, err
	}
	copy(c.IdentityLedger[:], ref)
	if c.TotalRequests, err = d.u64(); err != nil {
		return nil, err
	}
	if c.TotalResponses, err = d.u64(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal encodes the request into its fixed layout
func (r *ValidationRequest) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, ValidationRequestSize)}
	e.u8(TypeValidationRequest)
	e.u64(r.AgentID)
	e.fixed(r.Validator[:])
	e.u32(r.Nonce)
	e.fixed(r.RequestHash[:])
	e.fixed(r.ResponseHash[:])
	e.u8(r.Response)
	e.i64(r.CreatedAt)
	e.i64(r.RespondedAt)
	return e.buf, nil
}

// DecodeValidationRequest decodes a validation request record
func DecodeValidationRequest(raw []byte) (*ValidationRequest, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeValidationRequest); err != nil {
		return nil, err
	}
	var r ValidationRequest
	var err error
	if r.AgentID, err = d.u64(); err != nil {
		return nil, err
	}
	if r.Validator, err = d.addr(); err != nil {
		return nil, err
	}
	if r.Nonce, err = d.u32(); err != nil {
		return nil, err
	}
	reqHash, err := d.fixed(HashSize)
	if err != nil {
		return nil, err
	}
	copy(r.RequestHash[:], reqHash)
	respHash, err := d.fixed(HashSize)
	if err != nil {
		return nil, err
	}
	copy(r.ResponseHash[:], respHash)
	if r.Response, err = d.u8(); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = d.i64(); err != nil {
		return nil, err
	}
	if r.RespondedAt, err = d.i64(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the token into its fixed layout
func (t *TokenRecord) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, TokenRecordSize)}
	e.u8(TypeTokenRecord)
	e.fixed(t.Mint[:])
	e.fixed(t.Holder[:])
	e.u8(t.Supply)
	return e.buf, nil
}

// DecodeTokenRecord decodes a token record
func DecodeTokenRecord(raw []byte) (*TokenRecord, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeTokenRecord); err != nil {
		return nil, err
	}
	var t TokenRecord
	var err error
	if t.Mint, err = d.addr(); err != nil {
		return nil, err
	}
	if t.Holder, err = d.addr(); err != nil {
		return nil, err
	}
	if t.Supply, err = d.u8(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Marshal encodes the pointer into its fixed layout
func (p *AgentPointer) Marshal() ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, AgentPointerSize)}
	e.u8(TypeAgentPointer)
	e.fixed(p.Mint[:])
	return e.buf, nil
}

// DecodeAgentPointer decodes an agent pointer record
func DecodeAgentPointer(raw []byte) (*AgentPointer, error) {
	d := &decoder{buf: raw}
	if err := d.discriminator(TypeAgentPointer); err != nil {
		return nil, err
	}
	var p AgentPointer
	var err error
	if p.Mint, err = d.addr(); err != nil {
		return nil, err
	}
	return &p, nil
}

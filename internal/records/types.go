package records

import "postage/pkg/domain"

// MaxDisplayNameLen is the byte limit on a profile display name.
const MaxDisplayNameLen = 32

// Config is the singleton holding the admin key, the fee rate and the running
// total of fees not yet withdrawn.
type Config struct {
	Admin              domain.PublicKey
	TotalFeesCollected uint64
	FeeRate            uint8
	Bump               uint8
}

func (*Config) Kind() string { return "Config" }
func (*Config) Size() int    { return 32 + 8 + 1 + 1 }

func (c *Config) encode(e *encoder) {
	e.key(c.Admin)
	e.u64(c.TotalFeesCollected)
	e.u8(c.FeeRate)
	e.u8(c.Bump)
}

func (c *Config) decode(d *decoder) {
	c.Admin = d.key()
	c.TotalFeesCollected = d.u64()
	c.FeeRate = d.u8()
	c.Bump = d.u8()
}

// UserProfile is the identity record of one owner key.
type UserProfile struct {
	Owner       domain.PublicKey
	Bump        uint8
	DisplayName string
}

func (*UserProfile) Kind() string { return "UserProfile" }
func (*UserProfile) Size() int    { return 32 + 1 + 4 + MaxDisplayNameLen }

func (p *UserProfile) encode(e *encoder) {
	e.key(p.Owner)
	e.u8(p.Bump)
	e.str(p.DisplayName)
}

func (p *UserProfile) decode(d *decoder) {
	p.Owner = d.key()
	p.Bump = d.u8()
	p.DisplayName = d.str()
}

// Message records one deposit-backed send. Deposit and Fee capture the split
// applied at send time.
type Message struct {
	Sender   domain.PublicKey
	Bump     uint8
	Sequence uint64
	Deposit  uint64
	Fee      uint64
}

func (*Message) Kind() string { return "Email" }
func (*Message) Size() int    { return 32 + 1 + 8 + 8 + 8 }

func (m *Message) encode(e *encoder) {
	e.key(m.Sender)
	e.u8(m.Bump)
	e.u64(m.Sequence)
	e.u64(m.Deposit)
	e.u64(m.Fee)
}

func (m *Message) decode(d *decoder) {
	m.Sender = d.key()
	m.Bump = d.u8()
	m.Sequence = d.u64()
	m.Deposit = d.u64()
	m.Fee = d.u64()
}

// MessageLog counts the messages a sender has sent when several are allowed.
type MessageLog struct {
	Sender domain.PublicKey
	Bump   uint8
	Count  uint64
}

func (*MessageLog) Kind() string { return "EmailLog" }
func (*MessageLog) Size() int    { return 32 + 1 + 8 }

func (l *MessageLog) encode(e *encoder) {
	e.key(l.Sender)
	e.u8(l.Bump)
	e.u64(l.Count)
}

func (l *MessageLog) decode(d *decoder) {
	l.Sender = d.key()
	l.Bump = d.u8()
	l.Count = d.u64()
}

// Vault accumulates net deposits. Its ledger balance holds the funds.
type Vault struct {
	TotalDeposits uint64
	Bump          uint8
}

func (*Vault) Kind() string { return "Vault" }
func (*Vault) Size() int    { return 8 + 1 }

func (v *Vault) encode(e *encoder) {
	e.u64(v.TotalDeposits)
	e.u8(v.Bump)
}

func (v *Vault) decode(d *decoder) {
	v.TotalDeposits = d.u64()
	v.Bump = d.u8()
}

package records

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"postage/internal/address"
	"postage/internal/ledger"
	"postage/internal/ledger/store/memory"
	"postage/pkg/domain"
	"postage/pkg/platform/sentinel"
)

type RecordsSuite struct {
	suite.Suite
	ledger *memory.InMemory
	ctx    context.Context
	addrs  Addresses
	owner  domain.PublicKey
}

func TestRecordsSuite(t *testing.T) {
	suite.Run(t, new(RecordsSuite))
}

func (s *RecordsSuite) SetupTest() {
	s.ledger = memory.New()
	s.ctx = context.Background()
	s.addrs = NewAddresses(address.New(domain.Address{0xAA}))
	s.owner = domain.PublicKey{1, 2, 3}
}

func (s *RecordsSuite) inTx(fn func(tx ledger.Tx) error) error {
	return s.ledger.RunInTx(s.ctx, fn)
}

func (s *RecordsSuite) TestEncodedSizes() {
	cases := []struct {
		rec  Record
		size int
	}{
		{&Config{}, 42},
		{&UserProfile{DisplayName: strings.Repeat("a", MaxDisplayNameLen)}, 69},
		{&Vault{}, 9},
		{&Message{}, 57},
		{&MessageLog{}, 41},
	}
	for _, tc := range cases {
		s.Run(tc.rec.Kind(), func() {
			data, err := Encode(tc.rec)
			s.Require().NoError(err)
			s.Len(data, TagSize+tc.size)
		})
	}
}

func (s *RecordsSuite) TestCodecRoundTrip() {
	in := &UserProfile{Owner: s.owner, Bump: 254, DisplayName: "Zoë"}
	data, err := Encode(in)
	s.Require().NoError(err)

	var out UserProfile
	s.Require().NoError(Decode(data, &out))
	s.Equal(*in, out)
}

func (s *RecordsSuite) TestCodecRejections() {
	s.Run("display name over limit", func() {
		_, err := Encode(&UserProfile{DisplayName: strings.Repeat("x", MaxDisplayNameLen+1)})
		s.ErrorIs(err, ErrRecordTooLarge)
	})

	s.Run("invalid utf-8", func() {
		_, err := Encode(&UserProfile{DisplayName: "\xff"})
		s.ErrorIs(err, ErrInvalidString)
	})

	s.Run("wrong tag", func() {
		data, err := Encode(&Vault{TotalDeposits: 1})
		s.Require().NoError(err)
		s.ErrorIs(Decode(data, &Config{}), ErrTypeMismatch)
	})

	s.Run("truncated body", func() {
		data, err := Encode(&Config{FeeRate: 10})
		s.Require().NoError(err)
		s.ErrorIs(Decode(data[:len(data)-1], &Config{}), ErrTruncated)
	})

	s.Run("string length beyond data", func() {
		data, err := Encode(&UserProfile{DisplayName: "abc"})
		s.Require().NoError(err)
		s.ErrorIs(Decode(data[:len(data)-2], &UserProfile{}), ErrTruncated)
	})
}

func (s *RecordsSuite) TestTagsAreDistinct() {
	seen := map[[TagSize]byte]string{}
	for _, kind := range []string{"Config", "UserProfile", "Email", "EmailLog", "Vault"} {
		tag := Tag(kind)
		_, dup := seen[tag]
		s.False(dup, kind)
		seen[tag] = kind
	}
}

func (s *RecordsSuite) TestCreateReadMutate() {
	addr, bump, err := s.addrs.Profile(s.owner)
	s.Require().NoError(err)

	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		return Create(s.ctx, tx, addr, &UserProfile{Owner: s.owner, Bump: bump})
	}))

	s.Run("second create reports already exists", func() {
		err := s.inTx(func(tx ledger.Tx) error {
			return Create(s.ctx, tx, addr, &UserProfile{Owner: s.owner, Bump: bump, DisplayName: "x"})
		})
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("mutate rewrites the record", func() {
		s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
			var p UserProfile
			return Mutate(s.ctx, tx, addr, &p, func() error {
				p.DisplayName = "Alice"
				return nil
			})
		}))

		var p UserProfile
		s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
			return Read(s.ctx, tx, addr, &p)
		}))
		s.Equal("Alice", p.DisplayName)
		s.Equal(bump, p.Bump)
	})

	s.Run("read with the wrong type fails", func() {
		err := s.inTx(func(tx ledger.Tx) error {
			return Read(s.ctx, tx, addr, &Config{})
		})
		s.ErrorIs(err, ErrTypeMismatch)
	})
}

func (s *RecordsSuite) TestCreateKeepsExistingBalance() {
	addr, _, err := s.addrs.Vault()
	s.Require().NoError(err)

	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		if err := tx.Put(s.ctx, &ledger.Account{Address: addr, Balance: 77}); err != nil {
			return err
		}
		return Create(s.ctx, tx, addr, &Vault{})
	}))
	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		acct, err := tx.Get(s.ctx, addr)
		s.Require().NoError(err)
		s.Equal(uint64(77), acct.Balance)
		return nil
	}))
}

func (s *RecordsSuite) TestMissingRecords() {
	addr, _, err := s.addrs.Profile(s.owner)
	s.Require().NoError(err)

	err = s.inTx(func(tx ledger.Tx) error {
		return Read(s.ctx, tx, addr, &UserProfile{})
	})
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.inTx(func(tx ledger.Tx) error {
		return Mutate(s.ctx, tx, addr, &UserProfile{}, func() error { return nil })
	})
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.inTx(func(tx ledger.Tx) error {
		_, err := Destroy(s.ctx, tx, addr, s.owner.Address())
		return err
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RecordsSuite) TestBalanceOnlyAccountIsNotARecord() {
	addr, _, err := s.addrs.AdminVault()
	s.Require().NoError(err)
	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		return tx.Put(s.ctx, &ledger.Account{Address: addr, Balance: 5})
	}))

	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		ok, err := Exists(s.ctx, tx, addr)
		s.Require().NoError(err)
		s.False(ok)
		return nil
	}))
}

func (s *RecordsSuite) TestDestroyMovesBalance() {
	addr, bump, err := s.addrs.Profile(s.owner)
	s.Require().NoError(err)
	ownerAddr := s.owner.Address()

	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		if err := tx.Put(s.ctx, &ledger.Account{Address: ownerAddr, Balance: 10}); err != nil {
			return err
		}
		if err := tx.Put(s.ctx, &ledger.Account{Address: addr, Balance: 25}); err != nil {
			return err
		}
		return Create(s.ctx, tx, addr, &UserProfile{Owner: s.owner, Bump: bump})
	}))

	var moved uint64
	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		var err error
		moved, err = Destroy(s.ctx, tx, addr, ownerAddr)
		return err
	}))
	s.Equal(uint64(25), moved)

	s.Require().NoError(s.inTx(func(tx ledger.Tx) error {
		_, err := tx.Get(s.ctx, addr)
		s.ErrorIs(err, sentinel.ErrNotFound)
		owner, err := tx.Get(s.ctx, ownerAddr)
		s.Require().NoError(err)
		s.Equal(uint64(35), owner.Balance)
		return nil
	}))
}

func (s *RecordsSuite) TestAddressesAreSeparated() {
	cfg, _, err := s.addrs.Config()
	s.Require().NoError(err)
	vault, _, err := s.addrs.Vault()
	s.Require().NoError(err)
	admin, _, err := s.addrs.AdminVault()
	s.Require().NoError(err)
	msg0, _, err := s.addrs.MessageAt(s.owner, 0)
	s.Require().NoError(err)
	msg1, _, err := s.addrs.MessageAt(s.owner, 1)
	s.Require().NoError(err)
	single, _, err := s.addrs.Message(s.owner)
	s.Require().NoError(err)

	all := []domain.Address{cfg, vault, admin, msg0, msg1, single}
	seen := map[domain.Address]bool{}
	for _, a := range all {
		s.False(seen[a])
		seen[a] = true
	}
}

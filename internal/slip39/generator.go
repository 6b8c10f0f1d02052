package slip39

import (
	"io"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// GeneratorParams fixes the group layout of a share set.
type GeneratorParams struct {
	GroupThreshold    int
	GroupCount        int
	Passphrase        string
	IterationExponent int
	Extendable        bool
}

// Generator emits the shares of one master secret group by group.
// The group level split happens up front; member shares of a group are
// produced when the group is configured.
type Generator struct {
	id         uint16
	extendable bool
	exponent   uint8

	groupThreshold int
	groupShares    []rawShare
	groups         []genGroup
	active         int

	rand io.Reader
}

type genGroup struct {
	spec       GroupSpec
	configured bool
	members    []rawShare
	emitted    int
}

func (g *genGroup) complete() bool {
	return g.configured && g.emitted == g.spec.MemberCount
}

// NewGenerator encrypts secret and splits it across p.GroupCount groups.
func NewGenerator(secret []byte, p GeneratorParams, rand io.Reader) (*Generator, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}
	if err := validateGroupLayout(p.GroupThreshold, p.GroupCount, p.IterationExponent); err != nil {
		return nil, err
	}
	if err := ValidatePassphrase(p.Passphrase); err != nil {
		return nil, err
	}

	id, err := randomIdentifier(rand)
	if err != nil {
		return nil, err
	}
	exponent := uint8(p.IterationExponent)
	encrypted := encrypt(secret, p.Passphrase, exponent, id, p.Extendable)
	defer crypto.Wipe(encrypted)

	groupShares, err := splitSecret(p.GroupThreshold, p.GroupCount, encrypted, rand)
	if err != nil {
		return nil, err
	}
	return &Generator{
		id:             id,
		extendable:     p.Extendable,
		exponent:       exponent,
		groupThreshold: p.GroupThreshold,
		groupShares:    groupShares,
		groups:         make([]genGroup, p.GroupCount),
		active:         -1,
		rand:           rand,
	}, nil
}

// SetGroup configures the member layout of group index and makes it the
// group that NextMember emits from.
func (g *Generator) SetGroup(index, memberCount, memberThreshold int) error {
	if index < 0 || index >= len(g.groups) {
		return hsmerr.Invalid("group index %d out of range 0-%d", index, len(g.groups)-1)
	}
	spec := GroupSpec{MemberThreshold: memberThreshold, MemberCount: memberCount}
	if err := spec.Validate(); err != nil {
		return err
	}
	if g.active >= 0 && g.active != index {
		if cur := &g.groups[g.active]; cur.emitted > 0 && !cur.complete() {
			return hsmerr.New(hsmerr.KindSessionConflict, "group %d is still emitting members", g.active)
		}
	}
	grp := &g.groups[index]
	if grp.emitted > 0 {
		return hsmerr.Invalid("group %d already emitted members", index)
	}

	members, err := splitSecret(memberThreshold, memberCount, g.groupShares[index].value, g.rand)
	if err != nil {
		return err
	}
	wipeShares(grp.members)
	grp.spec = spec
	grp.members = members
	grp.configured = true
	g.active = index
	return nil
}

// Ready fails when NextMember has no member to emit.
func (g *Generator) Ready() error {
	if g.active < 0 {
		return hsmerr.Invalid("no group configured")
	}
	if grp := &g.groups[g.active]; grp.complete() {
		return hsmerr.Invalid("group %d has emitted all %d members", g.active, grp.spec.MemberCount)
	}
	return nil
}

// NextMember returns the next member mnemonic of the active group.
func (g *Generator) NextMember() (string, error) {
	if err := g.Ready(); err != nil {
		return "", err
	}
	grp := &g.groups[g.active]
	m := grp.members[grp.emitted]
	s := &Share{
		Identifier:        g.id,
		Extendable:        g.extendable,
		IterationExponent: g.exponent,
		GroupIndex:        uint8(g.active),
		GroupThreshold:    uint8(g.groupThreshold),
		GroupCount:        uint8(len(g.groups)),
		MemberIndex:       m.x,
		MemberThreshold:   uint8(grp.spec.MemberThreshold),
		Value:             m.value,
	}
	grp.emitted++
	return s.Mnemonic(), nil
}

// Done reports whether every group emitted all of its members.
func (g *Generator) Done() bool {
	for i := range g.groups {
		if !g.groups[i].complete() {
			return false
		}
	}
	return true
}

// LastMember reports whether the next NextMember call completes the
// share set.
func (g *Generator) LastMember() bool {
	if g.active < 0 {
		return false
	}
	for i := range g.groups {
		grp := &g.groups[i]
		if i == g.active {
			if !grp.configured || grp.emitted != grp.spec.MemberCount-1 {
				return false
			}
		} else if !grp.complete() {
			return false
		}
	}
	return true
}

// Progress returns the number of completed groups and the group count.
func (g *Generator) Progress() (completed, total int) {
	for i := range g.groups {
		if g.groups[i].complete() {
			completed++
		}
	}
	return completed, len(g.groups)
}

// ActiveGroup returns the group NextMember emits from, or -1.
func (g *Generator) ActiveGroup() int { return g.active }

// Zero wipes all share material.
func (g *Generator) Zero() {
	wipeShares(g.groupShares)
	for i := range g.groups {
		wipeShares(g.groups[i].members)
		g.groups[i].members = nil
	}
	g.groupShares = nil
}

func wipeShares(shares []rawShare) {
	for _, s := range shares {
		crypto.Wipe(s.value)
	}
}

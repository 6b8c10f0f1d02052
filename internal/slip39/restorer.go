package slip39

import (
	"bytes"
	"sort"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hsm/pkg/hsmerr"
)

// Restorer accumulates shares until the master secret can be recovered.
// Shares are keyed by group and member index, so arrival order and
// duplicates do not affect the outcome.
type Restorer struct {
	passphrase string
	params     *commonParams
	valueLen   int
	groups     map[uint8]*restoreGroup
}

type restoreGroup struct {
	threshold uint8
	members   map[uint8][]byte
	// held keeps well-formed shares that failed a digest check. They do not
	// count toward the threshold but are still tried during recovery, since
	// the share at fault may be one accepted earlier.
	held map[uint8][]byte
}

func (g *restoreGroup) share(mi uint8) ([]byte, bool) {
	if v, ok := g.members[mi]; ok {
		return v, true
	}
	v, ok := g.held[mi]
	return v, ok
}

// NewRestorer starts a restoration bound to passphrase.
func NewRestorer(passphrase string) *Restorer {
	return &Restorer{
		passphrase: passphrase,
		groups:     make(map[uint8]*restoreGroup),
	}
}

// Add feeds one mnemonic. It returns the master secret once enough groups
// are complete and nil while more shares are needed. A rejected share
// leaves previously accepted shares in place.
func (r *Restorer) Add(passphrase, mnemonic string) ([]byte, error) {
	if passphrase != r.passphrase {
		return nil, hsmerr.New(hsmerr.KindPassphraseMismatch, "passphrase differs from the one this restoration started with")
	}
	s, err := ParseShare(mnemonic)
	if err != nil {
		return nil, err
	}

	cp := s.common()
	if r.params != nil {
		if *r.params != cp {
			return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "share belongs to a different share set")
		}
		if len(s.Value) != r.valueLen {
			return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "share value length differs")
		}
	}

	grp := r.groups[s.GroupIndex]
	if grp != nil {
		if grp.threshold != s.MemberThreshold {
			return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "member threshold differs within group %d", s.GroupIndex)
		}
		if prev, ok := grp.share(s.MemberIndex); ok {
			if !bytes.Equal(prev, s.Value) {
				return nil, hsmerr.New(hsmerr.KindInconsistentShareSet, "conflicting share for group %d member %d", s.GroupIndex, s.MemberIndex)
			}
			crypto.Wipe(s.Value)
			return nil, nil
		}
	}

	if grp == nil {
		grp = &restoreGroup{
			threshold: s.MemberThreshold,
			members:   make(map[uint8][]byte),
			held:      make(map[uint8][]byte),
		}
		r.groups[s.GroupIndex] = grp
	}
	first := r.params == nil
	if first {
		r.params = &cp
		r.valueLen = len(s.Value)
	}
	grp.members[s.MemberIndex] = s.Value

	done, need := r.Progress()
	if done < need {
		return nil, nil
	}
	secret, err := r.recover()
	if err != nil {
		delete(grp.members, s.MemberIndex)
		if first {
			crypto.Wipe(s.Value)
			delete(r.groups, s.GroupIndex)
			r.params = nil
			r.valueLen = 0
			return nil, err
		}
		// The corrupt share may be one accepted earlier, so this one stays a
		// recovery candidate.
		grp.held[s.MemberIndex] = s.Value
		return nil, err
	}
	return secret, nil
}

// Progress returns the number of complete groups and the group threshold.
// The threshold is zero before the first share.
func (r *Restorer) Progress() (complete, threshold int) {
	if r.params == nil {
		return 0, 0
	}
	for _, g := range r.groups {
		if len(g.members) >= int(g.threshold) {
			complete++
		}
	}
	return complete, int(r.params.groupThreshold)
}

// Shares returns the number of accepted shares per group index. Held-back
// shares are not counted.
func (r *Restorer) Shares() map[int]int {
	out := make(map[int]int, len(r.groups))
	for gi, g := range r.groups {
		if len(g.members) > 0 {
			out[int(gi)] = len(g.members)
		}
	}
	return out
}

func (r *Restorer) recover() ([]byte, error) {
	var groupIdx []int
	for gi, g := range r.groups {
		if len(g.members) >= int(g.threshold) {
			groupIdx = append(groupIdx, int(gi))
		}
	}
	sort.Ints(groupIdx)

	need := int(r.params.groupThreshold)
	groupShares := make([]rawShare, 0, need)
	defer func() { wipeShares(groupShares) }()
	var lastErr error
	for _, gi := range groupIdx {
		if len(groupShares) == need {
			break
		}
		v, err := r.groups[uint8(gi)].recoverValue()
		if err != nil {
			lastErr = err
			continue
		}
		groupShares = append(groupShares, rawShare{x: uint8(gi), value: v})
	}
	if len(groupShares) < need {
		return nil, lastErr
	}

	encrypted, err := recoverSecret(need, groupShares)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(encrypted)
	return decrypt(encrypted, r.passphrase, r.params.iterationExponent, r.params.identifier, r.params.extendable), nil
}

// recoverValue interpolates the group share from threshold members. With
// more candidates than the threshold, subsets are tried until one passes
// the digest check. Accepted members come first in index order, followed
// by held-back shares, so the accepted set is tried before any subset that
// includes a held share.
func (g *restoreGroup) recoverValue() ([]byte, error) {
	idx := sortedIndices(g.members)
	idx = append(idx, sortedIndices(g.held)...)

	k := int(g.threshold)
	pick := make([]int, k)
	for i := range pick {
		pick[i] = i
	}
	shares := make([]rawShare, k)
	var lastErr error
	for {
		for i, p := range pick {
			mi := uint8(idx[p])
			v, _ := g.share(mi)
			shares[i] = rawShare{x: mi, value: v}
		}
		v, err := recoverSecret(k, shares)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !nextCombination(pick, len(idx)) {
			return nil, lastErr
		}
	}
}

func sortedIndices(m map[uint8][]byte) []int {
	idx := make([]int, 0, len(m))
	for mi := range m {
		idx = append(idx, int(mi))
	}
	sort.Ints(idx)
	return idx
}

// nextCombination advances pick to the next k-subset of 0..n-1 in
// lexicographic order. It returns false after the last subset.
func nextCombination(pick []int, n int) bool {
	k := len(pick)
	i := k - 1
	for i >= 0 && pick[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	pick[i]++
	for j := i + 1; j < k; j++ {
		pick[j] = pick[j-1] + 1
	}
	return true
}

// Zero wipes all accepted shares.
func (r *Restorer) Zero() {
	for _, g := range r.groups {
		for mi, v := range g.members {
			crypto.Wipe(v)
			delete(g.members, mi)
		}
		for mi, v := range g.held {
			crypto.Wipe(v)
			delete(g.held, mi)
		}
	}
	r.groups = make(map[uint8]*restoreGroup)
	r.params = nil
}

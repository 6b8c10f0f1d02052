package hd

import (
	"crypto/elliptic"
	"encoding/binary"
	"math/big"

	"github.com/Klingon-tech/klingnet-hsm/pkg/crypto"
)

// childP256 is SLIP-10 derivation on NIST P-256. An invalid intermediate
// key is retried with I = HMAC(c, 0x01 || IR || index).
func (n *Node) childP256(index uint32) (*Node, error) {
	curve := elliptic.P256()
	order := curve.Params().N

	data := make([]byte, 0, 37)
	if index >= HardenedOffset {
		data = append(data, 0)
		data = append(data, n.private...)
	} else {
		data = append(data, n.public...)
	}
	data = binary.BigEndian.AppendUint32(data, index)

	for {
		I := hmacSHA512(n.chainCode, data)
		crypto.Wipe(data)
		il := new(big.Int).SetBytes(I[:32])

		if il.Cmp(order) < 0 {
			if n.private != nil {
				k := new(big.Int).SetBytes(n.private)
				k.Add(k, il)
				k.Mod(k, order)
				if k.Sign() != 0 {
					priv := k.FillBytes(make([]byte, 32))
					child, err := newPrivateNode(n.curve, priv, I[32:], n.depth+1)
					crypto.Wipe(priv)
					crypto.Wipe(I)
					k.SetInt64(0)
					return child, err
				}
			} else {
				px, py := elliptic.UnmarshalCompressed(curve, n.public)
				ix, iy := curve.ScalarBaseMult(I[:32])
				x, y := curve.Add(px, py, ix, iy)
				if x.Sign() != 0 || y.Sign() != 0 {
					pub := elliptic.MarshalCompressed(curve, x, y)
					return FromPublic(n.curve, pub, I[32:], n.depth+1)
				}
			}
		}

		data = make([]byte, 0, 37)
		data = append(data, 1)
		data = append(data, I[32:]...)
		data = binary.BigEndian.AppendUint32(data, index)
		crypto.Wipe(I)
	}
}

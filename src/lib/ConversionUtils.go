/*
# Copyright 2022-present Ralf Kundel
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#    http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
*/

package lib

import (
	"net"

	"github.com/pkg/errors"
)

func Uint16ToByte(val uint16) []byte {
	r := make([]byte, 2)
	for i := uint32(0); i < 2; i++ {
		r[2-1-i] = byte((val >> (8 * i)) & 0xff)
	}
	return r
}

func Uint32ToByte(val uint32) []byte {
	r := make([]byte, 4)
	for i := uint32(0); i < 4; i++ {
		r[4-1-i] = byte((val >> (8 * i)) & 0xff)
	}
	return r
}

func ByteToMac(val []byte) string {
	return net.HardwareAddr(val).String()
}

// fills 0 at beginning (!) of byte slice
func PaddingByteSliceSize(sl *[]byte, size int) {
	for len(*sl) < size {
		*sl = append([]byte{0}, *sl...)
	}
}

// ToBytes converts the value types used in table entry maps into a
// big-endian byte string.
func ToBytes(val interface{}) ([]byte, error) {
	switch v := val.(type) {
	case []byte:
		return v, nil
	case net.HardwareAddr:
		return []byte(v), nil
	case net.IP:
		if v4 := v.To4(); v4 != nil {
			return []byte(v4), nil
		}
		if v16 := v.To16(); v16 != nil {
			return []byte(v16), nil
		}
		return nil, errors.Errorf("invalid ip address %v", v)
	case uint8:
		return []byte{v}, nil
	case uint16:
		return Uint16ToByte(v), nil
	case uint32:
		return Uint32ToByte(v), nil
	case int:
		if v < 0 {
			return nil, errors.Errorf("negative value %d", v)
		}
		return Uint32ToByte(uint32(v)), nil
	case string:
		if mac, err := net.ParseMAC(v); err == nil {
			return []byte(mac), nil
		}
		if ip := net.ParseIP(v); ip != nil {
			return ToBytes(ip)
		}
		return nil, errors.Errorf("cannot convert %q to bytes", v)
	}
	return nil, errors.Errorf("unsupported value type %T", val)
}

// Canonical strips leading zero bytes and checks that the value fits into
// bitwidth bits. A zero value is encoded as a single zero byte.
func Canonical(val []byte, bitwidth int32) ([]byte, error) {
	i := 0
	for i < len(val)-1 && val[i] == 0 {
		i++
	}
	res := val[i:]
	if len(res) == 0 {
		return []byte{0}, nil
	}

	maxBytes := int((bitwidth + 7) / 8)
	if len(res) > maxBytes {
		return nil, errors.Errorf("value %x does not fit into %d bits", val, bitwidth)
	}
	if len(res) == maxBytes && bitwidth%8 != 0 {
		if res[0]>>uint(bitwidth%8) != 0 {
			return nil, errors.Errorf("value %x does not fit into %d bits", val, bitwidth)
		}
	}
	return res, nil
}

// Padded returns val as a byte string of exactly ceil(bitwidth/8) bytes.
func Padded(val []byte, bitwidth int32) ([]byte, error) {
	res, err := Canonical(val, bitwidth)
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, res...)
	PaddingByteSliceSize(&out, int((bitwidth+7)/8))
	return out, nil
}

// PrefixMask returns a ternary mask with the prefixLen most significant
// bits of a bitwidth wide field set.
func PrefixMask(prefixLen int32, bitwidth int32) []byte {
	size := int((bitwidth + 7) / 8)
	mask := make([]byte, size)
	skip := int32(size*8) - bitwidth
	for bit := int32(0); bit < prefixLen && bit < bitwidth; bit++ {
		pos := skip + bit
		mask[pos/8] |= 0x80 >> uint(pos%8)
	}
	return mask
}

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

func GetMacAddr(iface string) (string, error) {
	ifa, err := net.InterfaceByName(iface)
	if err != nil {
		return "", errors.Wrapf(err, "interface %s not found", iface)
	}
	return ifa.HardwareAddr.String(), nil
}

// ParseCidr splits "10.0.0.0/24" into the network address and prefix length.
func ParseCidr(cidr string) (net.IP, int32, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		// a bare address is a host route
		ip = net.ParseIP(cidr)
		if ip == nil {
			return nil, 0, errors.Wrapf(err, "invalid cidr %s", cidr)
		}
		if ip.To4() != nil {
			return ip.To4(), 32, nil
		}
		return ip, 128, nil
	}
	ones, _ := ipnet.Mask.Size()
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(ipnet.Mask), int32(ones), nil
	}
	return ip.Mask(ipnet.Mask), int32(ones), nil
}

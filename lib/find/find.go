// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package find

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Usbtty describes one USB serial device.
type Usbtty struct {
	Dev    string
	VID    string
	PID    string
	Serial string
}

// HWID renders the device identity in the pyserial-compatible form the lab
// configuration files historically used, e.g.
// "USB VID:PID=0483:374B SER=0667FF343433464757221713".
func (u Usbtty) HWID() string {
	return fmt.Sprintf("USB VID:PID=%s:%s SER=%s",
		strings.ToUpper(u.VID), strings.ToUpper(u.PID), u.Serial)
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s vid/pid %s/%s serial %s", u.Dev, u.VID, u.PID, u.Serial)
}

type FilterFn func(*Usbtty) bool

// VIDPIDFilter matches by vendor and product id, case-insensitively. An
// empty pid matches any product of the vendor.
func VIDPIDFilter(vid, pid string) FilterFn {
	return func(ut *Usbtty) bool {
		if !strings.EqualFold(ut.VID, vid) {
			return false
		}
		return pid == "" || strings.EqualFold(ut.PID, pid)
	}
}

// SerialFilter matches by the exact USB serial number.
func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// HWIDFilter matches when sub occurs in the pyserial-style hardware id
// string, mirroring how the original configs pinned devices.
func HWIDFilter(sub string) FilterFn {
	return func(ut *Usbtty) bool { return strings.Contains(ut.HWID(), sub) }
}

// listPorts is swappable in tests.
var listPorts = enumerator.GetDetailedPortsList

// AllUsbTtys enumerates USB serial devices.
func AllUsbTtys() ([]Usbtty, error) {
	details, err := listPorts()
	if err != nil {
		return nil, err
	}
	var devs []Usbtty
	for _, d := range details {
		if !d.IsUSB {
			continue
		}
		devs = append(devs, Usbtty{
			Dev:    d.Name,
			VID:    d.VID,
			PID:    d.PID,
			Serial: d.SerialNumber,
		})
	}
	return devs, nil
}

// Find searches for a USB serial device. If filter is not nil, it is used to
// narrow choices down; the first device for which it returns true (if any)
// is chosen. Without a unique result Find returns an error rather than
// guessing.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	if filter != nil {
		for i := range ttys {
			if filter(&ttys[i]) {
				ttys = []Usbtty{ttys[i]}
				break
			}
		}
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys: %v", ttys)
}

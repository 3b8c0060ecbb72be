// Copyright (c) 2023–2026 The shutterbox developers. All rights reserved.
// Project site: https://github.com/MxKuna/shutterbox
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package find

import (
	"testing"

	"go.bug.st/serial/enumerator"
)

func stubPorts(t *testing.T, ports []*enumerator.PortDetails) {
	t.Helper()
	orig := listPorts
	listPorts = func() ([]*enumerator.PortDetails, error) { return ports, nil }
	t.Cleanup(func() { listPorts = orig })
}

var labBench = []*enumerator.PortDetails{
	{Name: "/dev/ttyS0", IsUSB: false},
	{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8037", SerialNumber: "75830303934351F03170"},
	{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0483", PID: "374B", SerialNumber: "0667FF343433464757221713"},
}

func TestAllUsbTtysSkipsLegacyPorts(t *testing.T) {
	stubPorts(t, labBench)

	ttys, err := AllUsbTtys()
	if err != nil {
		t.Fatal(err)
	}
	if len(ttys) != 2 {
		t.Fatalf("ttys = %v", ttys)
	}
	if ttys[0].Dev != "/dev/ttyACM0" || ttys[1].Dev != "/dev/ttyUSB0" {
		t.Errorf("ttys = %v", ttys)
	}
}

func TestFindByVIDPID(t *testing.T) {
	stubPorts(t, labBench)

	dev, err := Find(VIDPIDFilter("0483", "374b"))
	if err != nil {
		t.Fatal(err)
	}
	if dev != "/dev/ttyUSB0" {
		t.Errorf("dev = %s", dev)
	}

	// Empty pid matches any product of the vendor.
	dev, err = Find(VIDPIDFilter("2341", ""))
	if err != nil {
		t.Fatal(err)
	}
	if dev != "/dev/ttyACM0" {
		t.Errorf("dev = %s", dev)
	}
}

func TestFindBySerial(t *testing.T) {
	stubPorts(t, labBench)

	dev, err := Find(SerialFilter("75830303934351F03170"))
	if err != nil {
		t.Fatal(err)
	}
	if dev != "/dev/ttyACM0" {
		t.Errorf("dev = %s", dev)
	}
}

func TestFindByHWID(t *testing.T) {
	stubPorts(t, labBench)

	dev, err := Find(HWIDFilter("USB VID:PID=0483:374B"))
	if err != nil {
		t.Fatal(err)
	}
	if dev != "/dev/ttyUSB0" {
		t.Errorf("dev = %s", dev)
	}
}

func TestFindAmbiguous(t *testing.T) {
	stubPorts(t, labBench)

	if _, err := Find(nil); err == nil {
		t.Error("two candidates, no filter: expected an error")
	}
}

func TestFindNoDevices(t *testing.T) {
	stubPorts(t, []*enumerator.PortDetails{{Name: "/dev/ttyS0", IsUSB: false}})

	if _, err := Find(nil); err == nil {
		t.Error("no USB ttys: expected an error")
	}
}

func TestHWIDFormat(t *testing.T) {
	u := Usbtty{Dev: "/dev/ttyUSB0", VID: "0483", PID: "374b", Serial: "ABC123"}
	want := "USB VID:PID=0483:374B SER=ABC123"
	if got := u.HWID(); got != want {
		t.Errorf("HWID = %q, want %q", got, want)
	}
}

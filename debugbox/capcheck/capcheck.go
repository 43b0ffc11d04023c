// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package capcheck inspects the file capabilities granted to an executable,
// such as the "cap_net_raw,cap_net_admin+eip" given to the debug box's
// tcpdump.
package capcheck

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Capability numbers, see capability(7).
const (
	CapNetAdmin = 12
	CapNetRaw   = 13
)

const xattrName = "security.capability"

// vfs_cap_data revisions and sizes.
const (
	revisionMask  = 0xff000000
	flagEffective = 0x000001
	revision1     = 0x01000000
	revision2     = 0x02000000
	revision3     = 0x03000000
	sizeRev1      = 4 + 1*8
	sizeRev2      = 4 + 2*8
	sizeRev3      = 4 + 2*8 + 4
)

// FileCaps are the capability sets of an executable.
type FileCaps struct {
	Permitted   uint64
	Inheritable uint64
	Effective   bool
}

// Has returns true if the capability is in the permitted set.
func (c FileCaps) Has(capability int) bool {
	return c.Permitted&(1<<uint(capability)) != 0
}

func (c FileCaps) String() string {
	names := []string{}
	for _, known := range []struct {
		num  int
		name string
	}{{CapNetAdmin, "cap_net_admin"}, {CapNetRaw, "cap_net_raw"}} {
		if c.Has(known.num) {
			names = append(names, known.name)
		}
	}
	flags := "p"
	if c.Effective {
		flags = "ep"
	}
	if c.Inheritable != 0 {
		flags += "i"
	}
	return fmt.Sprintf("%s+%s (permitted=%#x)", strings.Join(names, ","), flags, c.Permitted)
}

// Parse decodes a "security.capability" extended attribute value.
func Parse(b []byte) (FileCaps, error) {
	if len(b) < 4 {
		return FileCaps{}, errors.New("capability data too short")
	}
	magic := binary.LittleEndian.Uint32(b)
	var words int
	switch magic & revisionMask {
	case revision1:
		if len(b) != sizeRev1 {
			return FileCaps{}, errors.Errorf("invalid revision 1 capability data size %d", len(b))
		}
		words = 1
	case revision2:
		if len(b) != sizeRev2 {
			return FileCaps{}, errors.Errorf("invalid revision 2 capability data size %d", len(b))
		}
		words = 2
	case revision3:
		if len(b) != sizeRev3 {
			return FileCaps{}, errors.Errorf("invalid revision 3 capability data size %d", len(b))
		}
		words = 2
	default:
		return FileCaps{}, errors.Errorf("unknown capability data revision %#x", magic&revisionMask)
	}
	caps := FileCaps{Effective: magic&flagEffective != 0}
	for word := 0; word < words; word++ {
		off := 4 + word*8
		caps.Permitted |= uint64(binary.LittleEndian.Uint32(b[off:])) << (32 * word)
		caps.Inheritable |= uint64(binary.LittleEndian.Uint32(b[off+4:])) << (32 * word)
	}
	return caps, nil
}

// Read returns the file capabilities of the specified file. Files without
// any capabilities return empty sets.
func Read(path string) (FileCaps, error) {
	buf := make([]byte, sizeRev3)
	n, err := unix.Getxattr(path, xattrName, buf)
	if err != nil {
		if err == unix.ENODATA {
			return FileCaps{}, nil
		}
		return FileCaps{}, errors.Wrapf(err, "cannot read capabilities of %s", path)
	}
	return Parse(buf[:n])
}

// Check logs a warning when the executable lacks effective CAP_NET_RAW and
// thus cannot capture packets when run unprivileged. It never fails.
func Check(path string) bool {
	caps, err := Read(path)
	if err != nil {
		log.Warnf("cannot check capabilities of %s: %s", path, err.Error())
		return false
	}
	if !caps.Has(CapNetRaw) || !caps.Effective {
		log.Warnf("%s lacks effective cap_net_raw, packet capture will fail for unprivileged users", path)
		return false
	}
	log.Infof("%s has capabilities %s", path, caps)
	return true
}

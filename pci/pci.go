// Package pci is the collaborator surface a driver uses to find and
// configure PCI devices (spec §6): enumerate by class/subclass/
// progif, flip command-register bits, and enable MSI/MSI-X. Its
// consumers are drivers, not the kernel core, so this package owns no
// device model of its own beyond what a driver needs to read and
// write — actual bus probing (reading config space over port I/O or
// ECAM) is out of scope for a hosted simulation and is left to a real
// arch layer. Grounded on the Astral original's arch/pci.h
// (pci_enumeration, pci_getdevicecs[p], pci_setcommand,
// pci_msi*/pci_msix*) and on the teacher's pci package's interface-
// shaped device abstraction (Disk_i in olddiski.go).
package pci

// Command register bits, mirroring PCI_COMMAND_*.
const (
	CommandIO         = 1 << 0
	CommandMemory     = 1 << 1
	CommandMaster     = 1 << 2
	CommandIntDisable = 1 << 10
)

// BAR classifications, mirroring pci_bartype's PCI_TYPE_MEM/PCI_MEM_64
// return bits.
const (
	BARTypeIO  = 0
	BARTypeMem = 1
	BARMem64   = 2
)

// Header mirrors pci_common: the fields common to every PCI
// configuration-space header, regardless of device/bridge/cardbus
// type.
type Header struct {
	Vendor       uint16
	Device       uint16
	Command      uint16
	Status       uint16
	Revision     uint8
	ProgIF       uint8
	Subclass     uint8
	Class        uint8
	CacheSize    uint8
	LatencyTimer uint8
	HeaderType   uint8
	BIST         uint8
}

// DeviceHeader mirrors pci_deviceheader: a type-0 header's additional
// BARs, subsystem IDs, and interrupt line/pin.
type DeviceHeader struct {
	Header
	BAR             [6]uint32
	CardbusCIS      uint32
	SubsystemVendor uint16
	Subsystem       uint16
	ROMBase         uint32
	Capabilities    uint8
	InterruptLine   uint8
	InterruptPin    uint8
	MinGrant        uint8
	MaxGrant        uint8
}

// msiState holds one device's discovered MSI capability offset;
// msixState additionally tracks its vector table. Mirrors the
// anonymous msi/msix union in pci_enumeration.
type msiState struct {
	offset  int
	present bool
}

type msixState struct {
	offset     int
	entryCount int
	present    bool
}

// Device mirrors pci_enumeration: one discovered PCI function plus its
// bus-address triple and any MSI/MSI-X capability found while
// enumerating it. A ConfigSpace implementation backs the actual
// register reads/writes Command/EnableMSI/etc. perform.
type Device struct {
	Bus      uint8
	Slot     uint8
	Function uint8
	Header   *DeviceHeader

	msi  msiState
	msix msixState

	space ConfigSpace
}

// ConfigSpace is the narrow read/write contract a Device needs from
// whatever actually talks to the bus (port I/O, ECAM, or a simulated
// backing store in tests) — the seam that keeps this package free of
// any real hardware access.
type ConfigSpace interface {
	ReadConfig32(bus, slot, function uint8, offset int) uint32
	WriteConfig32(bus, slot, function uint8, offset int, value uint32)
}

// Bus enumerates discovered devices and offers get_device-style
// lookups by class/subclass[/progif]. Mirrors the package-level device
// list pci_enumerate populates.
type Bus struct {
	devices []*Device
}

// NewBus creates an empty bus; a real boot path would populate it via
// Enumerate, a simulated one via AddDevice.
func NewBus() *Bus { return &Bus{} }

// NewDevice constructs a device at the given bus address with the
// given header and backing config space (nil is fine for tests that
// only inspect in-memory state). Mirrors the pci_enumeration a real
// enumerate() would have appended to its device list.
func NewDevice(bus, slot, function uint8, header *DeviceHeader, space ConfigSpace) *Device {
	return &Device{Bus: bus, Slot: slot, Function: function, Header: header, space: space}
}

// SetMSICapability records that this device advertised an MSI
// capability at the given configuration-space offset, the state a
// real enumerate() would have discovered by walking the capability
// list looking for ID 0x05.
func (d *Device) SetMSICapability(offset int) { d.msi = msiState{offset: offset, present: true} }

// SetMSIXCapability records that this device advertised an MSI-X
// capability at the given offset with the given vector-table entry
// count, the state a real enumerate() would have discovered by
// walking the capability list looking for ID 0x11.
func (d *Device) SetMSIXCapability(offset, entryCount int) {
	d.msix = msixState{offset: offset, entryCount: entryCount, present: true}
}

// AddDevice registers an already-discovered device, the seam a test or
// a simulated enumeration path uses in place of real bus probing.
func (b *Bus) AddDevice(d *Device) { b.devices = append(b.devices, d) }

// GetDeviceCS returns the n'th device (0-indexed) matching class and
// subclass, mirroring pci_getdevicecs.
func (b *Bus) GetDeviceCS(class, subclass uint8, n int) *Device {
	return b.getDevice(class, subclass, -1, n)
}

// GetDeviceCSP returns the n'th device matching class, subclass, and
// progif, mirroring pci_getdevicecsp.
func (b *Bus) GetDeviceCSP(class, subclass, progif uint8, n int) *Device {
	return b.getDevice(class, subclass, int(progif), n)
}

func (b *Bus) getDevice(class, subclass uint8, progif int, n int) *Device {
	matches := 0
	for _, d := range b.devices {
		if d.Header.Class != class || d.Header.Subclass != subclass {
			continue
		}
		if progif >= 0 && d.Header.ProgIF != uint8(progif) {
			continue
		}
		if matches == n {
			return d
		}
		matches++
	}
	return nil
}

// SetCommand ORs (or, if value is false, clears) bits into the
// device's command register and writes it back. Mirrors
// pci_setcommand.
func (d *Device) SetCommand(bits uint16, value bool) {
	if value {
		d.Header.Command |= bits
	} else {
		d.Header.Command &^= bits
	}
	if d.space != nil {
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, 0x04, uint32(d.Header.Status)<<16|uint32(d.Header.Command))
	}
}

// MSISupport reports whether the device advertised an MSI capability
// during enumeration. Mirrors pci_msisupport.
func (d *Device) MSISupport() bool { return d.msi.present }

// MSIXSupport reports whether the device advertised an MSI-X
// capability during enumeration. Mirrors pci_msixsupport.
func (d *Device) MSIXSupport() bool { return d.msix.present }

// EnableMSI turns on the device's MSI capability's enable bit.
// Mirrors pci_msienable.
func (d *Device) EnableMSI() bool {
	if !d.msi.present {
		return false
	}
	d.SetCommand(CommandMaster, true)
	if d.space != nil {
		ctl := d.space.ReadConfig32(d.Bus, d.Slot, d.Function, d.msi.offset)
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, d.msi.offset, ctl|1<<16)
	}
	return true
}

// EnableMSIX turns on the device's MSI-X capability's enable bit.
// Mirrors pci_msixenable.
func (d *Device) EnableMSIX() bool {
	if !d.msix.present {
		return false
	}
	d.SetCommand(CommandMaster, true)
	if d.space != nil {
		ctl := d.space.ReadConfig32(d.Bus, d.Slot, d.Function, d.msix.offset)
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, d.msix.offset, ctl|1<<31)
	}
	return true
}

// BuildMSIMessage computes the address/data pair that steers an MSI
// interrupt to the given destination CPU and vector, mirroring
// pci_msi_build's bit layout (low 32 bits encode the fixed 0xFEE00000
// MSI address region plus the destination APIC ID; data encodes the
// vector and trigger/deassert flags).
func BuildMSIMessage(vector, processor uint8, edgeTrigger, deassert bool) (addr uint64, data uint32) {
	addr = 0xFEE00000 | uint64(processor)<<12
	data = uint32(vector)
	if !edgeTrigger {
		data |= 1 << 15
	}
	if deassert {
		data |= 1 << 14
	}
	return addr, data
}

// AddMSIVector records vector/cpu routing for a device's (sole) MSI
// capability. Mirrors pci_msiadd.
func (d *Device) AddMSIVector(cpu int, vector uint8, edgeTrigger, deassert bool) bool {
	if !d.msi.present {
		return false
	}
	addr, data := BuildMSIMessage(vector, uint8(cpu), edgeTrigger, deassert)
	if d.space != nil {
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, d.msi.offset+4, uint32(addr))
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, d.msi.offset+8, data)
	}
	return true
}

// AddMSIXVector records vector/cpu routing for one entry of a device's
// MSI-X table. Mirrors pci_msixadd.
func (d *Device) AddMSIXVector(msixVector int, cpu int, vector uint8, edgeTrigger, deassert bool) bool {
	if !d.msix.present || msixVector >= d.msix.entryCount {
		return false
	}
	addr, data := BuildMSIMessage(vector, uint8(cpu), edgeTrigger, deassert)
	if d.space != nil {
		base := d.msix.offset + msixVector*16
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, base, uint32(addr))
		d.space.WriteConfig32(d.Bus, d.Slot, d.Function, base+8, data)
	}
	return true
}

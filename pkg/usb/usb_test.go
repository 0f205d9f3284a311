package usb

import "testing"

func TestSupported(t *testing.T) {
	cases := []struct {
		name    string
		vendor  VendorID
		product ProductID
		want    bool
	}{
		{"ngp linkmasta", VendorFlashmasta, ProductNGPLinkmasta, true},
		{"ngp flashmasta", VendorFlashmasta, ProductNGPFlashmasta, true},
		{"ws flashmasta", VendorFlashmasta, ProductWSFlashmasta, true},
		{"wrong vendor", 0x046D, ProductNGPLinkmasta, false},
		{"wrong product", VendorFlashmasta, 0x0001, false},
		{"zero pair", 0, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Supported(c.vendor, c.product); got != c.want {
				t.Errorf("Supported(0x%04X, 0x%04X) = %v, want %v", uint16(c.vendor), uint16(c.product), got, c.want)
			}
		})
	}
}

func TestSystemForProduct(t *testing.T) {
	cases := []struct {
		product ProductID
		want    System
	}{
		{ProductNGPLinkmasta, SystemNeoGeoPocket},
		{ProductNGPFlashmasta, SystemNeoGeoPocket},
		{ProductWSFlashmasta, SystemWonderSwan},
		{0x1234, SystemUnknown},
	}
	for _, c := range cases {
		if got := SystemForProduct(c.product); got != c.want {
			t.Errorf("SystemForProduct(0x%04X) = %v, want %v", uint16(c.product), got, c.want)
		}
	}
}

func TestSystemString(t *testing.T) {
	cases := []struct {
		system System
		want   string
	}{
		{SystemNeoGeoPocket, "NeoGeoPocket"},
		{SystemWonderSwan, "WonderSwan"},
		{SystemUnknown, "Unknown"},
		{System(99), "Unknown"},
	}
	for _, c := range cases {
		if got := c.system.String(); got != c.want {
			t.Errorf("System.String() = %q, want %q", got, c.want)
		}
	}
}

package usbdev

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"felicad/card"
)

// Sony FeliCa USB product IDs.
const (
	VendorSony    = "054c"
	ProductRCS320 = "01bb"
	ProductRCS300 = "0dc9"
	ProductRCS330 = "02e1"
)

// Known maps (vendor, product) to the reader model it identifies.
var Known = []Device{
	{VendorID: VendorSony, ProductID: ProductRCS320, Model: card.ModelRCS320},
	{VendorID: VendorSony, ProductID: ProductRCS300, Model: card.ModelRCS300},
	{VendorID: VendorSony, ProductID: ProductRCS330, Model: card.ModelRCS330},
}

// Device is an entry of the known-reader table.
type Device struct {
	VendorID  string
	ProductID string
	Model     string
}

// Identity describes one attached reader.
type Identity struct {
	Path      string // sysfs USB device name, e.g. "1-1.3.2"
	VendorID  string
	ProductID string
	Model     string
}

// usbName matches sysfs USB device names ("1-1", "1-1.3.2") but not
// interfaces ("1-1.3.2:1.0") or root hubs ("usb1").
var usbName = regexp.MustCompile(`^\d+-\d+(\.\d+)*$`)

// Enumerator scans the sysfs USB device tree.
type Enumerator struct {
	root  string
	known []Device
	log   logrus.FieldLogger
}

// New returns an Enumerator rooted at sysRoot ("/sys" when empty).
func New(sysRoot string, log logrus.FieldLogger) *Enumerator {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return &Enumerator{
		root:  sysRoot,
		known: Known,
		log:   log.WithField("component", "usbdev"),
	}
}

// List scans the device tree once and returns every known reader, sorted
// by path. An unreadable tree yields an empty list: readers may simply not
// be plugged in yet.
func (e *Enumerator) List() []Identity {
	dir := filepath.Join(e.root, "bus", "usb", "devices")
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Warnf("Cannot read %s: %v", dir, err)
		return nil
	}

	var readers []Identity
	for _, entry := range entries {
		devDir := filepath.Join(dir, entry.Name())
		vendor, ok := readAttr(devDir, "idVendor")
		if !ok {
			continue
		}
		product, ok := readAttr(devDir, "idProduct")
		if !ok {
			continue
		}

		for _, k := range e.known {
			if vendor == k.VendorID && product == k.ProductID {
				readers = append(readers, Identity{
					Path:      entry.Name(),
					VendorID:  vendor,
					ProductID: product,
					Model:     k.Model,
				})
				break
			}
		}
	}

	sort.Slice(readers, func(i, j int) bool { return readers[i].Path < readers[j].Path })
	return readers
}

// PathsForProduct returns the sorted paths of all readers with the given product ID.
func (e *Enumerator) PathsForProduct(productID string) []string {
	var paths []string
	for _, r := range e.List() {
		if r.ProductID == productID {
			paths = append(paths, r.Path)
		}
	}
	return paths
}

// FindPortForProduct returns the path of the first reader with the given product ID.
func (e *Enumerator) FindPortForProduct(productID string) (string, bool) {
	for _, r := range e.List() {
		if r.ProductID == productID {
			return r.Path, true
		}
	}
	return "", false
}

// PathForNode resolves a device node of the given class (e.g. "tty",
// "ttyUSB0" or "input", "event3") to the USB device it hangs off.
func (e *Enumerator) PathForNode(class, name string) (string, error) {
	link := filepath.Join(e.root, "class", class, name, "device")
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", link, err)
	}

	parts := strings.Split(filepath.ToSlash(target), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if usbName.MatchString(parts[i]) {
			return parts[i], nil
		}
	}
	return "", fmt.Errorf("%s/%s is not a USB device", class, name)
}

func readAttr(dir, name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(string(b))), true
}

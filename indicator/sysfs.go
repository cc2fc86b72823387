package indicator

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SysfsDriver drives lines through the Linux sysfs GPIO interface.
type SysfsDriver struct {
	root     string
	exported []int
}

// NewSysfsDriver uses root, normally /sys/class/gpio.
func NewSysfsDriver(root string) *SysfsDriver {
	return &SysfsDriver{root: root}
}

func (d *SysfsDriver) Pin(n int) (Pin, error) {
	dir := filepath.Join(d.root, "gpio"+strconv.Itoa(n))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := d.write("export", strconv.Itoa(n)); err != nil {
			return nil, err
		}
		d.exported = append(d.exported, n)
		// udev needs a moment to fix permissions on the new line
		for i := 0; i < 10; i++ {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if err := d.write(filepath.Join("gpio"+strconv.Itoa(n), "direction"), "out"); err != nil {
		return nil, err
	}
	return &sysfsPin{path: filepath.Join(dir, "value")}, nil
}

// Close unexports the lines this driver exported.
func (d *SysfsDriver) Close() error {
	var first error
	for _, n := range d.exported {
		if err := d.write("unexport", strconv.Itoa(n)); err != nil && first == nil {
			first = err
		}
	}
	d.exported = nil
	return first
}

func (d *SysfsDriver) write(name, v string) error {
	p := filepath.Join(d.root, name)
	return errors.Wrapf(os.WriteFile(p, []byte(v), 0o644), "can't write %v", p)
}

type sysfsPin struct {
	path string
}

func (p *sysfsPin) Write(high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	return errors.Wrapf(os.WriteFile(p.path, []byte(v), 0o644), "can't write %v", p.path)
}

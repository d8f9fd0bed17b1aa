package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"

	"felicad/card"
	"felicad/usbdev"
)

const (
	defaultPafeLibrary = "libpafe.so"
	libcLibrary        = "libc.so.6"
)

// pafeAPI holds the libpafe entry points. pasori_open takes no
// arguments in libpafe, unlike felicalib.
type pafeAPI struct {
	pasoriOpen    func() uintptr
	pasoriInit    func(p uintptr) int32
	pasoriClose   func(p uintptr)
	felicaPolling func(p uintptr, systemCode uint16, rfu, timeslot uint8) uintptr
	felicaGetIDm  func(f uintptr, idm *byte) int32
	free          func(ptr uintptr)

	release func() error
}

// Pafe reads an RC-S320 through libpafe, loaded at run time so the
// daemon starts on hosts without the library.
type Pafe struct {
	name       string
	library    string
	systemCode uint16
	enum       *usbdev.Enumerator
	log        logrus.FieldLogger
	load       func(path string) (*pafeAPI, error)

	api    *pafeAPI
	pasori uintptr
}

// NewPafe creates a libpafe reader. Nothing is loaded until Open.
func NewPafe(name, library string, systemCode uint16, enum *usbdev.Enumerator, log logrus.FieldLogger) *Pafe {
	if library == "" {
		library = defaultPafeLibrary
	}
	return &Pafe{
		name:       name,
		library:    library,
		systemCode: systemCode,
		enum:       enum,
		log:        log,
		load:       loadPafe,
	}
}

// Name implements Reader.Name.
func (p *Pafe) Name() string { return p.name }

// Open implements Reader.Open.
func (p *Pafe) Open() error {
	api, err := p.load(p.library)
	if err != nil {
		return unavailable(fmt.Sprintf("load %s (is libpafe installed?)", p.library), err)
	}

	pasori := api.pasoriOpen()
	if pasori == 0 {
		_ = api.release()
		return unavailable("pasori_open", errors.New("returned NULL, is the RC-S320 connected?"))
	}
	if rc := api.pasoriInit(pasori); rc != 0 {
		api.pasoriClose(pasori)
		_ = api.release()
		return unavailable("pasori_init", fmt.Errorf("returned %d", rc))
	}

	p.api = api
	p.pasori = pasori
	return nil
}

// Poll implements Reader.Poll.
func (p *Pafe) Poll(ctx context.Context) (Tag, error) {
	if p.api == nil {
		return Tag{}, errors.New("libpafe: not open")
	}

	f := p.api.felicaPolling(p.pasori, p.systemCode, 0, 0)
	if f == 0 {
		return Tag{}, nil
	}

	var idm [8]byte
	p.api.felicaGetIDm(f, &idm[0])
	// libpafe mallocs the felica struct and leaves freeing to the caller.
	p.api.free(f)

	id := card.ID(idm[:])
	if id.Empty() {
		return Tag{}, nil
	}

	path, _ := p.enum.FindPortForProduct(usbdev.ProductRCS320)
	return Tag{
		ID:     id,
		Model:  card.ModelRCS320,
		Path:   path,
		Source: p.library,
	}, nil
}

// Close implements Reader.Close.
func (p *Pafe) Close() error {
	if p.api == nil {
		return nil
	}
	p.api.pasoriClose(p.pasori)
	err := p.api.release()
	p.api = nil
	p.pasori = 0
	return err
}

func loadPafe(path string) (api *pafeAPI, err error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	libc, err := purego.Dlopen(libcLibrary, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		purego.Dlclose(lib)
		return nil, err
	}
	defer func() {
		if err != nil {
			purego.Dlclose(libc)
			purego.Dlclose(lib)
		}
	}()

	api = &pafeAPI{
		release: func() error {
			purego.Dlclose(libc)
			return purego.Dlclose(lib)
		},
	}

	bind := func(handle uintptr, fptr any, names ...string) error {
		for _, name := range names {
			sym, err := purego.Dlsym(handle, name)
			if err == nil {
				purego.RegisterFunc(fptr, sym)
				return nil
			}
		}
		return fmt.Errorf("symbol %s not found", names[0])
	}

	if err := bind(lib, &api.pasoriOpen, "pasori_open"); err != nil {
		return nil, err
	}
	if err := bind(lib, &api.pasoriInit, "pasori_init"); err != nil {
		return nil, err
	}
	if err := bind(lib, &api.pasoriClose, "pasori_close"); err != nil {
		return nil, err
	}
	if err := bind(lib, &api.felicaPolling, "felica_polling"); err != nil {
		return nil, err
	}
	if err := bind(lib, &api.felicaGetIDm, "felica_getidm", "felica_get_idm"); err != nil {
		return nil, err
	}
	if err := bind(libc, &api.free, "free"); err != nil {
		return nil, err
	}
	return api, nil
}

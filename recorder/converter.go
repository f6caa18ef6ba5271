package recorder

import (
	"fmt"
)

type converterParams struct {
	srcLayout PixelLayout
	src       Region
	dstLayout PixelLayout
	dst       Region
}

// LazyConverter builds the real converter from the first captured frame's
// reported layout and reuses it for the rest of the session.
type LazyConverter struct {
	factory func(srcLayout PixelLayout, src Region, dstLayout PixelLayout, dst Region) (Converter, error)

	initialized bool
	params      converterParams
	conv        Converter
	inits       int
}

func NewLazyConverter(factory func(PixelLayout, Region, PixelLayout, Region) (Converter, error)) *LazyConverter {
	return &LazyConverter{factory: factory}
}

// EnsureInitialized is idempotent for identical parameters. Any other
// parameters after the first call fail with ErrConverterReinitNotSupported.
func (c *LazyConverter) EnsureInitialized(srcLayout PixelLayout, src Region, dstLayout PixelLayout, dst Region) error {
	p := converterParams{srcLayout: srcLayout, src: src, dstLayout: dstLayout, dst: dst}
	if c.initialized {
		if p != c.params {
			return fmt.Errorf("%w: initialized for %s %s -> %s %s, got %s %s -> %s %s",
				ErrConverterReinitNotSupported,
				c.params.srcLayout, c.params.src, c.params.dstLayout, c.params.dst,
				srcLayout, src, dstLayout, dst)
		}
		return nil
	}
	if c.factory == nil {
		return fmt.Errorf("%w: no converter backend", ErrConversionFailed)
	}
	conv, err := c.factory(srcLayout, src, dstLayout, dst)
	if err != nil {
		return wrapKind(ErrConversionFailed, err)
	}
	c.conv = conv
	c.params = p
	c.initialized = true
	c.inits++
	return nil
}

func (c *LazyConverter) Initialized() bool {
	return c.initialized
}

// Initializations counts how many times a backend converter was built.
func (c *LazyConverter) Initializations() int {
	return c.inits
}

func (c *LazyConverter) Convert(raw *RawFrame, dst *Frame) error {
	if !c.initialized {
		return fmt.Errorf("%w: converter not initialized", ErrConversionFailed)
	}
	if raw.Layout != c.params.srcLayout || raw.Region != c.params.src {
		return fmt.Errorf("%w: frame is %s %s, converter expects %s %s",
			ErrConversionFailed, raw.Layout, raw.Region, c.params.srcLayout, c.params.src)
	}
	if dst.Layout != c.params.dstLayout || dst.Region != c.params.dst {
		return fmt.Errorf("%w: destination is %s %s, converter produces %s %s",
			ErrConversionFailed, dst.Layout, dst.Region, c.params.dstLayout, c.params.dst)
	}
	return wrapKind(ErrConversionFailed, c.conv.Convert(raw, dst))
}

func (c *LazyConverter) Close() error {
	if c.conv == nil {
		return nil
	}
	err := c.conv.Close()
	c.conv = nil
	return err
}

package domain

import (
	"net/netip"
	"strings"
)

// Range é uma faixa de endereços (CIDR). Um endereço sem prefixo é tratado
// como /32 (ou /128 em IPv6).
type Range struct {
	prefix netip.Prefix
}

// ParseRange valida a faixa na configuração, para que erros apareçam na
// inicialização e não durante uma consulta.
func ParseRange(s string) (Range, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Range{}, &InvalidRangeError{Range: s, Err: errEmptyRange}
	}

	if !strings.Contains(raw, "/") {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return Range{}, &InvalidRangeError{Range: s, Err: err}
		}
		addr = addr.Unmap().WithZone("")
		return Range{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
	}

	p, err := netip.ParsePrefix(raw)
	if err != nil {
		return Range{}, &InvalidRangeError{Range: s, Err: err}
	}
	if p.Addr().Is4In6() && p.Bits() >= 96 {
		p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
	}
	return Range{prefix: p.Masked()}, nil
}

// MustParseRange é útil em testes e em valores fixos no código.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRanges falha na primeira faixa inválida.
func ParseRanges(values []string) ([]Range, error) {
	out := make([]Range, 0, len(values))
	for _, v := range values {
		r, err := ParseRange(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Contains informa se o endereço está dentro da faixa. Endereços que não
// puderem ser interpretados nunca casam.
func (r Range) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return r.ContainsAddr(addr)
}

func (r Range) ContainsAddr(addr netip.Addr) bool {
	if !r.prefix.IsValid() {
		return false
	}
	return r.prefix.Contains(addr.Unmap().WithZone(""))
}

func (r Range) String() string { return r.prefix.String() }

func (r Range) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Range) UnmarshalText(b []byte) error {
	parsed, err := ParseRange(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MatchAny percorre as faixas na ordem configurada.
func MatchAny(ranges []Range, ip string) bool {
	if len(ranges) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	for _, r := range ranges {
		if r.ContainsAddr(addr) {
			return true
		}
	}
	return false
}

// RangeStrings é o inverso de ParseRanges, usado no protocolo entre processos.
func RangeStrings(ranges []Range) []string {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]string, len(ranges))
	for i, r := range ranges {
		out[i] = r.String()
	}
	return out
}

package rbc

// Line classes. A target receives a line when its mask covers every bit of
// the line's flag. Bits 2 and 4 are left unassigned so existing masks in
// project files keep their meaning.
const (
	FlagPosition    = 1
	FlagCalibration = 8
	FlagRaw         = 0x10
)

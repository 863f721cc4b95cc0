package depscan

import "testing"

func TestParseLddOutput(t *testing.T) {
	out := []byte(
		"\tlibc.so.6 => /system/lib/libc.so.6 (0x1000)\n" +
			"\tlibm.so.6 => /proc/boot/libm.so.6 (0x2000)\n" +
			"\tlinux-vdso.so.1 =>  (0x3000)\n" +
			"\trelative => relative/path.so (0x4000)\n",
	)

	got := parseLddOutput(out)
	want := []string{"/system/lib/libc.so.6", "/proc/boot/libm.so.6"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

/*
Package fuse hosts the native FUSE backends and the mount providers built on
them. Two native libraries are supported through build constraints:

  - Linux uses github.com/hanwen/go-fuse/v2 against the kernel fuse driver.
  - macOS and Windows use github.com/winfsp/cgofuse against FUSE-T and
    WinFsp respectively.

Each backend adapts the native library's callback table to the adapter
bridge, which owns the locking policy, and satisfies mount.Backend so the
mount handle can drive teardown. Providers register themselves with the
process-wide mount registry at init time; selection is then a pure matter of
operating system, runtime support probes and capability sets.
*/
package fuse

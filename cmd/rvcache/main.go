// Command rvcache inspects an on-disk decoded-instruction cache image:
// it parses either the raw or the portable encoding and prints every
// bound slot's bytecode, handler index, raw instruction, and block length.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bassosimone/rvuser/pkg/decoder"
)

func dump(cache *decoder.DecoderCache) {
	for i := range cache.Slots {
		slot := &cache.Slots[i]
		if slot.IsInvalidHandler() {
			continue
		}
		fmt.Printf("slot %5d: bytecode=%-3d handler=%-3d instr=%#08x block=%d bytes\n",
			i, slot.Bytecode(), slot.Handler(), slot.Instr(), slot.BlockBytes(cache.Compressed))
	}
}

func main() {
	log.SetFlags(0)
	filename := flag.String("f", "", "cache image to inspect")
	portable := flag.Bool("portable", false, "parse the portable (no handler-table) encoding")
	compressed := flag.Bool("c", false, "assume compressed-ISA slot sizing")
	flag.Parse()
	if *filename == "" {
		log.Fatal("usage: rvcache [-portable] [-c] -f <cache-image>")
	}

	data, err := os.ReadFile(*filename)
	if err != nil {
		log.Fatal(err)
	}

	reg := decoder.NewRegistry()
	var cache *decoder.DecoderCache
	if *portable {
		cache, err = decoder.DeserializePortable(data, *compressed, reg, decoder.RefDecode)
	} else {
		cache, err = decoder.Deserialize(data, *compressed, reg, decoder.RefDecode)
	}
	if err != nil {
		log.Fatal(err)
	}

	dump(cache)
}

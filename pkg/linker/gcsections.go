package linker

import (
	"context"
	"debug/elf"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// markDepth bounds how many levels of visit() recurse in-line before
// handing a newly discovered section back to the shared feeder queue,
// the same tradeoff the reference linker's tbb::parallel_do-based marker
// makes: recursing a little avoids round-tripping every edge through the
// queue, but recursing unboundedly would let one goroutine's stack stand
// in for the whole graph.
const markDepth = 3

// markSection is the core's only coordination primitive: it reports
// whether isec should be (and now has been) visited. A CAS false->true on
// IsVisited is the sole source of truth — no other lock ever guards it.
func markSection(isec *InputSection) bool {
	return isec != nil && isec.IsAlive && isec.IsVisited.CompareAndSwap(false, true)
}

// GCSections runs the dead-code elimination pass: it marks every section
// reachable from the root set alive, and kills every other ALLOC section
// (non-ALLOC sections are always kept).
// It must run after symbols are resolved and mergeable sections are
// registered (InputSection.OutputSection and Symbol.SectionFragment need
// to be in their final shape) and before the chunks that consume
// InputSection.IsAlive (BinSections, ComputeSectionSizes) run.
func GCSections(ctx *Context) {
	var wg sync.WaitGroup
	var roots []*InputSection
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		markNonallocFragments(ctx)
	}()

	scanA := func() []*InputSection {
		var found []*InputSection
		var m sync.Mutex
		g := new(errgroup.Group)
		g.SetLimit(ctx.GCWorkers())
		for _, file := range ctx.Objs {
			file := file
			g.Go(func() error {
				var local []*InputSection
				for _, isec := range file.Sections {
					if isec == nil {
						continue
					}
					if isec.Shdr().Flags&uint64(elf.SHF_ALLOC) == 0 {
						isec.IsVisited.Store(true)
					}
					if isec.IsInitFini() {
						if markSection(isec) {
							local = append(local, isec)
						}
					}
				}
				if len(local) > 0 {
					m.Lock()
					found = append(found, local...)
					m.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		return found
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		mu.Lock()
		roots = append(roots, scanA()...)
		mu.Unlock()
	}()

	wg.Wait()

	rootsBC := collectRootSetBCD(ctx)
	mu.Lock()
	roots = append(roots, rootsBC...)
	mu.Unlock()

	mark(ctx, roots)
	sweep(ctx)
}

// enqueueSection roots isec directly, enqueueSymbol roots whatever a
// symbol points at: a fragment (marked alive outright, since fragments
// aren't walked by the marker) or an input section (fed through the same
// mark primitive as every other root).
func enqueueSection(isec *InputSection, out *[]*InputSection, mu *sync.Mutex) {
	if markSection(isec) {
		mu.Lock()
		*out = append(*out, isec)
		mu.Unlock()
	}
}

func enqueueSymbol(sym *Symbol, out *[]*InputSection, mu *sync.Mutex) {
	if sym == nil {
		return
	}
	if sym.SectionFragment != nil {
		sym.SectionFragment.IsAlive.Store(true)
		return
	}
	enqueueSection(sym.InputSection, out, mu)
}

// collectRootSetBCD runs Scan B (exported symbols), Scan C (entry and
// -u/-undefined names) and Scan D (CIE relocations), the three scans that
// depend on symbol resolution having already run.
func collectRootSetBCD(ctx *Context) []*InputSection {
	var roots []*InputSection
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(ctx.GCWorkers())

	// Scan B.
	for _, file := range ctx.Objs {
		file := file
		g.Go(func() error {
			for _, sym := range file.Symbols {
				if sym.File == file && sym.IsExported {
					enqueueSymbol(sym, &roots, &mu)
				}
			}
			return nil
		})
	}

	// Scan D.
	for _, file := range ctx.Objs {
		file := file
		g.Go(func() error {
			for _, cie := range file.Cies {
				for _, rel := range cie.Rels {
					if rel.Sym != nil {
						enqueueSection(rel.Sym.InputSection, &roots, &mu)
					}
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	// Scan C. Entry/undefined names are interned through the same
	// GetSymbolByName path symbol resolution uses; an unresolved name
	// produces a fresh, file-less Symbol, so enqueueSymbol is a correct
	// no-op for it.
	if ctx.Args.Entry != "" {
		enqueueSymbol(GetSymbolByName(ctx, ctx.Args.Entry), &roots, &mu)
	}
	for _, name := range ctx.Args.Undefined {
		enqueueSymbol(GetSymbolByName(ctx, name), &roots, &mu)
	}

	return roots
}

// visit walks isec's outgoing edges: fragment refs, FDE rels (skipping
// each FDE's own rels[0], which covers isec itself and would otherwise
// make every FDE-bearing section trivially self-rooting), and ordinary
// relocations. Relocation targets newly marked within markDepth of isec
// are walked in-line; beyond that, and for every FDE target, they're
// handed back to feed for a worker to pick up.
func visit(isec *InputSection, feed func(*InputSection), depth int) {
	for _, frag := range isec.FragmentRefs {
		frag.IsAlive.Store(true)
	}

	for _, fde := range isec.Fdes {
		if len(fde.Rels) < 2 {
			continue
		}
		for _, rel := range fde.Rels[1:] {
			if rel.Sym == nil {
				continue
			}
			if target := rel.Sym.InputSection; markSection(target) {
				feed(target)
			}
		}
	}

	for _, rel := range isec.GetRels() {
		sym := isec.File.Symbols[rel.Sym]
		if sym.File == nil {
			continue
		}

		if sym.SectionFragment != nil {
			sym.SectionFragment.IsAlive.Store(true)
			continue
		}

		if !markSection(sym.InputSection) {
			continue
		}

		if depth < markDepth {
			visit(sym.InputSection, feed, depth+1)
		} else {
			feed(sym.InputSection)
		}
	}
}

// mark drains the root set through a bounded feeder queue processed by a
// fixed worker pool, the Go equivalent of tbb::parallel_do's feeder
// pattern: the channel is sized to the total number of alloc sections,
// which is a correct upper bound since markSection accepts each section
// at most once, so the channel can never block on a full buffer.
func mark(ctx *Context, roots []*InputSection) {
	total := 0
	for _, file := range ctx.Objs {
		for _, isec := range file.Sections {
			if isec != nil && isec.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
				total++
			}
		}
	}
	if total == 0 {
		return
	}

	queue := make(chan *InputSection, total)
	var pending sync.WaitGroup

	feed := func(isec *InputSection) {
		pending.Add(1)
		queue <- isec
	}

	for _, isec := range roots {
		feed(isec)
	}

	go func() {
		pending.Wait()
		close(queue)
	}()

	var workers sync.WaitGroup
	for i := 0; i < ctx.GCWorkers(); i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for isec := range queue {
				visit(isec, feed, 0)
				pending.Done()
			}
		}()
	}
	workers.Wait()
}

// sweep kills every section that was alive going into the pass but was
// never visited, one goroutine per object file. Unlike the other P1/P0
// parallel-for passes, this one bounds its fan-out with a semaphore
// rather than errgroup.Group's SetLimit: sweep never needs to fail fast
// or propagate an error, so a bare acquire/release around a WaitGroup is
// enough and avoids errgroup's context-cancellation machinery.
func sweep(ctx *Context) {
	sem := semaphore.NewWeighted(int64(ctx.GCWorkers()))
	ctxBg := context.Background()
	var wg sync.WaitGroup

	for _, file := range ctx.Objs {
		file := file
		wg.Add(1)
		_ = sem.Acquire(ctxBg, 1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			for _, isec := range file.Sections {
				if isec == nil || !isec.IsAlive || isec.IsVisited.Load() {
					continue
				}

				if ctx.Args.PrintGCSections {
					ctx.Diagnostics.GCSectionRemoved(file.File.Name, isec)
				}
				isec.IsAlive = false
				ctx.Stats.GCSections.Inc()
			}
		}()
	}

	wg.Wait()
}

// markNonallocFragments is the P0 pre-pass: fragments that live in a
// non-ALLOC merged section are never visited by the marker (nothing
// ALLOC ever references them through the graph the marker walks), so
// they're marked alive up front instead.
func markNonallocFragments(ctx *Context) {
	g := new(errgroup.Group)
	g.SetLimit(ctx.GCWorkers())

	for _, file := range ctx.Objs {
		file := file
		g.Go(func() error {
			for _, frag := range file.Fragments() {
				if frag.OutputSection.Shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
					frag.IsAlive.Store(true)
				}
			}
			return nil
		})
	}

	_ = g.Wait()
}

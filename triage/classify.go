package triage

import (
	"context"
	"strings"

	"pdftriage/structparse"
)

// carvedHit is one keyword's carve against one object. Multiple
// keywords may carve distinct text from the same object.
type carvedHit struct {
	Keyword string
	Content string
}

// accumulator is the per-pipeline-invocation mutable state: the
// extraction queue, carved content, and the disjoint JBIG2 set. Owned
// by exactly one document pass, never shared.
type accumulator struct {
	extract map[string]struct{}
	carved  map[string][]carvedHit
	jbig    map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		extract: make(map[string]struct{}),
		carved:  make(map[string][]carvedHit),
		jbig:    make(map[string]struct{}),
	}
}

func (a *accumulator) queueExtract(objNum string) {
	if objNum != "" && objNum != TrailerObject {
		a.extract[objNum] = struct{}{}
	}
}

func (a *accumulator) carve(objNum, keyword, content string) {
	if objNum == "" || content == "" {
		return
	}
	// Extraction wins: an object queued for extraction is never also
	// carved.
	if _, extracting := a.extract[objNum]; extracting {
		return
	}
	a.carved[objNum] = append(a.carved[objNum], carvedHit{Keyword: keyword, Content: content})
}

// reconcile drops carved entries for objects that later entered the
// extraction set through another keyword.
func (a *accumulator) reconcile() {
	for objNum := range a.carved {
		if _, extracting := a.extract[objNum]; extracting {
			delete(a.carved, objNum)
		}
	}
}

// classifyToken routes one resolved content token: references are
// followed one level into a sub-report and dispatched on its shape;
// literal text is carved or, when its owning object holds a stream,
// extracted.
func (p *pipeline) classifyToken(ctx context.Context, keyword, token string, rep ObjectReport, refs []string) {
	inRefs := false
	for _, r := range refs {
		if r == token {
			inRefs = true
			break
		}
	}
	if !inRefs && !isReference(token) {
		if rep.IsTrailer() {
			return
		}
		if rep.ContainsStream {
			p.acc.queueExtract(rep.ObjectNumber)
		} else {
			p.acc.carve(rep.ObjectNumber, keyword, token)
		}
		return
	}

	refObj := refObjectNumber(token)
	resp, err := p.eng.Query(ctx, structparse.Request{
		Objects:    []string{refObj},
		WantDetail: true,
	})
	if err != nil || len(resp.Parts) == 0 {
		// Never silently lose a hit: fall back to extracting the
		// original object.
		p.warnQuery(err, refObj, keyword)
		p.acc.queueExtract(rep.ObjectNumber)
		return
	}
	p.collectWarnings(resp)

	for _, subPart := range resp.Parts {
		subRep, perr := ParseReport(subPart)
		if perr != nil || subRep.IsTrailer() {
			continue
		}
		switch {
		case subRep.ContainsStream:
			p.acc.queueExtract(subRep.ObjectNumber)
		case len(subRep.ReferencedObjects) > 0 &&
			strings.TrimPrefix(subRep.Type, "/") == keyword:
			// The referenced object is itself of the keyword's type:
			// queue everything it references, one level only.
			for _, sr := range subRep.ReferencedObjects {
				p.acc.queueExtract(refObjectNumber(sr))
			}
		case resp.ObjectDetail != "":
			p.acc.carve(rep.ObjectNumber, keyword, resp.ObjectDetail)
		}
	}
}

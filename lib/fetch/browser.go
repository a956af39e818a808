package fetch

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"webharvest-backend/lib/extract"
	"webharvest-backend/lib/template"
)

// DefaultBrowserTimeout bounds navigation and the selector wait when the
// template does not configure one.
const DefaultBrowserTimeout = 20 * time.Second

// Browser acquires pages through a scripted headless session. Field
// extraction runs inside the session against the live document; transforms
// and output shaping reuse the shared engine code afterwards.
type Browser struct{}

func NewBrowser() *Browser {
	return &Browser{}
}

func (b *Browser) Fetch(ctx context.Context, url string, cfg template.Config, progress Progress) (items []extract.Record, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Fetch.Timeout(DefaultBrowserTimeout)

	progress.report(StageLaunch)
	launch := launcher.New().Headless(true).NoSandbox(true)
	controlURL, err := launch.Launch()
	if err != nil {
		return nil, errors.Wrap(err, "launch browser")
	}
	defer launch.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect to browser")
	}
	// the session is torn down on every path, error or not
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			slog.WarnContext(ctx, "failed to close browser session", "err", cerr)
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, errors.Wrap(err, "open page")
	}

	if _, err := page.SetExtraHeaders(headerPairs(cfg.Fetch.Headers)); err != nil {
		return nil, errors.Wrap(err, "set headers")
	}

	progress.report(StageGoto)
	navCtx, cancelNav := context.WithTimeout(ctx, timeout)
	defer cancelNav()
	nav := page.Context(navCtx)
	wait := nav.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := nav.Navigate(url); err != nil {
		return nil, errors.Wrap(err, "navigate")
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return nil, errors.Wrap(err, "navigation timed out")
	}

	waitSel := cfg.Fetch.WaitSelector
	if waitSel == "" {
		waitSel = cfg.Select.List
	}
	if waitSel != "" {
		progress.report(StageWaitSelector)
		selCtx, cancelSel := context.WithTimeout(ctx, timeout)
		_, err := page.Context(selCtx).Element(waitSel)
		cancelSel()
		if err != nil {
			// a missed wait condition is tolerated, the page may still
			// carry rows
			slog.WarnContext(ctx, "wait for selector timed out", "selector", waitSel, "err", err)
		}
	}

	progress.report(StageExtract)
	res, err := page.Eval(extractScript, cfg.Select)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate extraction")
	}

	items = make([]extract.Record, 0, len(res.Value.Arr()))
	for _, row := range res.Value.Arr() {
		raw := row.Map()
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)

		rec := extract.NewRecord()
		for _, name := range names {
			rec.Set(name, raw[name].Val())
		}
		items = append(items, extract.Finish(rec, cfg))
	}
	return items, nil
}

func headerPairs(overrides map[string]string) []string {
	headers := requestHeaders(overrides)
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(headers)*2)
	for _, name := range names {
		pairs = append(pairs, name, headers[name])
	}
	return pairs
}

// extractScript mirrors the engine's field-rule semantics against the live
// DOM. It receives the template's select config and returns one raw object
// per row-scope match; transforms and shaping happen on the Go side.
const extractScript = `(select) => {
	const getText = (el) => (el ? (el.textContent || '').trim() : '');
	const getHtml = (el) => (el ? el.innerHTML.trim() : '');
	const getAttr = (el, name) => {
		const v = el ? el.getAttribute(name) : null;
		return v ? v.trim() : '';
	};

	const fields = select.fields || {};
	const rows = Array.from(document.querySelectorAll(select.list || ''));
	const out = [];
	for (const scope of rows) {
		const row = {};
		for (const key in fields) {
			const cfg = fields[key];
			if (!cfg) continue;
			if (cfg.selector === 'closestCardHeader') {
				const card = scope.closest('.card');
				row[key] = getText(card ? card.querySelector('.card-header') : null);
			} else if (cfg.type === 'prevOfClosest') {
				const anc = cfg.closest ? scope.closest(cfg.closest) : scope;
				let v = '';
				if (anc) {
					let prev = anc.previousElementSibling;
					while (prev) {
						if (prev.matches(cfg.selector)) { v = getText(prev); break; }
						prev = prev.previousElementSibling;
					}
				}
				row[key] = v;
			} else if (cfg.type === 'closestFind') {
				let anc = cfg.closest ? scope.closest(cfg.closest) : scope;
				if (!anc) anc = scope;
				const el = anc.querySelector(cfg.selector);
				row[key] = cfg.html ? getHtml(el) : getText(el);
			} else if (cfg.type === 'exists') {
				row[key] = !!scope.querySelector(cfg.selector);
			} else if (cfg.type === 'html') {
				row[key] = getHtml(scope.querySelector(cfg.selector));
			} else if (cfg.type === 'attr') {
				row[key] = getAttr(scope.querySelector(cfg.selector), cfg.name || 'src');
			} else {
				const el = scope.querySelector(cfg.selector);
				let v = getText(el);
				if (el && cfg.match) {
					try {
						const m = v.match(new RegExp(cfg.match));
						if (m) v = m[1] || m[0];
					} catch (e) {}
				}
				row[key] = v;
			}
		}
		out.push(row);
	}
	return out;
}`

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/recaptcha-defer/internal/dom"
)

const bridgePage = `<html><head><script id="a" src="/a.js" data-x="1"></script></head>
<body><div id="box"><span>hi</span></div></body></html>`

func bind(t *testing.T, opts ...dom.Option) (*Runtime, *dom.Document) {
	t.Helper()
	doc, err := dom.ParseString(bridgePage, append(opts, dom.WithBaseURL("https://example.com/"))...)
	require.NoError(t, err)
	rt := newRuntime(t)
	require.NoError(t, rt.Bind(doc))
	return rt, doc
}

func eval(t *testing.T, rt *Runtime, script string) interface{} {
	t.Helper()
	result, err := rt.Execute(context.Background(), script)
	require.NoError(t, err)
	return result.Value
}

func TestBridgeElementProperties(t *testing.T) {
	rt, _ := bind(t)

	assert.Equal(t, "SCRIPT", eval(t, rt, "document.getElementById('a').tagName"))
	assert.Equal(t, "https://example.com/a.js", eval(t, rt, "document.getElementById('a').src"))
	assert.Equal(t, "1", eval(t, rt, "document.getElementById('a').getAttribute('data-x')"))
	assert.Nil(t, eval(t, rt, "document.getElementById('a').getAttribute('missing')"))
	assert.Equal(t, "src,data-x", eval(t, rt, `
		var names = [];
		var attrs = document.getElementById('a').attributes;
		for (var i = 0; i < attrs.length; i++) { names.push(attrs[i].name); }
		names.join(',')`))
	assert.Equal(t, "hi", eval(t, rt, "document.getElementById('box').textContent"))
	assert.Equal(t, true, eval(t, rt, "document.getElementById('a') === document.querySelector('script')"))
	assert.Equal(t, "HEAD", eval(t, rt, "document.getElementById('a').parentNode.tagName"))
}

func TestBridgeMutations(t *testing.T) {
	var executed []string
	rt, doc := bind(t, dom.WithExecutor(dom.ExecutorFunc(func(el *dom.Element) {
		executed = append(executed, el.Src())
	})))

	eval(t, rt, `
		var s = document.createElement('SCRIPT');
		s.src = '/b.js';
		s.async = true;
		s.type = 'text/javascript';
		s.id = 'b';
		document.body.appendChild(s);
	`)

	b := doc.GetElementByID("b")
	require.NotNil(t, b)
	assert.True(t, b.HasAttribute("async"))
	assert.Equal(t, []string{"https://example.com/b.js"}, executed)

	eval(t, rt, `
		var old = document.getElementById('b');
		var repl = document.createElement('script');
		repl.setAttribute('src', '/c.js');
		old.parentNode.replaceChild(repl, old);
	`)
	assert.Nil(t, doc.GetElementByID("b"))
	assert.Equal(t, []string{"https://example.com/b.js", "https://example.com/c.js"}, executed)

	assert.EqualValues(t, 1, eval(t, rt, "document.querySelectorAll('body script').length"))

	_, err := rt.Execute(context.Background(), "document.body.replaceChild(document.createElement('p'), document.head)")
	assert.Error(t, err)
}

func TestBridgeEvents(t *testing.T) {
	rt, doc := bind(t)
	ctx := context.Background()

	eval(t, rt, `
		var seen = [];
		function onClick(e) { seen.push('click:' + e.type); }
		window.addEventListener('click', onClick, { once: true, passive: true });
		window.addEventListener('click', onClick, { once: true, passive: true });
		window.addEventListener('ready', function (e) { seen.push('ready:' + e.detail); });
		window.addEventListener('scroll', onClick);
		window.removeEventListener('scroll', onClick);
	`)
	assert.Equal(t, 1, doc.Window().ListenerCount("click"))
	assert.Zero(t, doc.Window().ListenerCount("scroll"))

	n, err := rt.Dispatch(ctx, "click")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = rt.Dispatch(ctx, "click")
	require.NoError(t, err)
	assert.Zero(t, n)

	eval(t, rt, "window.dispatchEvent(new CustomEvent('ready', { detail: 7 }))")
	assert.Equal(t, "click:click,ready:7", eval(t, rt, "seen.join(',')"))
	assert.Equal(t, 1, doc.Window().DispatchCount("ready"))
}

func TestBridgeMutationObserver(t *testing.T) {
	rt, doc := bind(t)

	eval(t, rt, `
		var added = [];
		var mo = new MutationObserver(function (records) {
			records.forEach(function (r) {
				r.addedNodes.forEach(function (n) { if (n.tagName === 'SCRIPT') { added.push(n.getAttribute('src')); n.type = 'javascript/blocked'; } });
			});
		});
		mo.observe(document.documentElement, { childList: true, subtree: true });
		var s = document.createElement('script');
		s.src = '/late.js';
		document.head.appendChild(s);
		mo.disconnect();
		var t = document.createElement('script');
		t.src = '/after.js';
		document.head.appendChild(t);
	`)

	assert.Equal(t, "/late.js", eval(t, rt, "added.join(',')"))
	assert.Zero(t, doc.Observers())

	scripts, err := doc.QuerySelectorAll(`script[type="javascript/blocked"]`)
	require.NoError(t, err)
	assert.Len(t, scripts, 1)
}

func TestBridgeMutationObserverListsInsertedRootsOnly(t *testing.T) {
	rt, _ := bind(t)

	eval(t, rt, `
		var records = [];
		var mo = new MutationObserver(function (batch) {
			batch.forEach(function (r) {
				var names = [];
				r.addedNodes.forEach(function (n) { names.push(n.nodeName); });
				records.push(r.target.nodeName + ':' + names.join('+'));
			});
		});
		mo.observe(document.documentElement, { childList: true, subtree: true });
		var wrapper = document.createElement('div');
		var inner = document.createElement('script');
		inner.src = '/nested.js';
		wrapper.appendChild(inner);
		wrapper.appendChild(document.createElement('span'));
		document.body.appendChild(wrapper);
		mo.disconnect();
	`)

	assert.Equal(t, "BODY:DIV", eval(t, rt, "records.join(',')"))
	assert.EqualValues(t, 1, eval(t, rt, "wrapper.getElementsByTagName('script').length"))
	assert.Equal(t, "/nested.js", eval(t, rt, "wrapper.getElementsByTagName('SCRIPT')[0].getAttribute('src')"))
	assert.EqualValues(t, 2, eval(t, rt, "document.getElementsByTagName('script').length"))
}

func TestBridgeWithoutObserverSupport(t *testing.T) {
	rt, _ := bind(t, dom.WithoutObserver())
	assert.Equal(t, "undefined", eval(t, rt, "typeof MutationObserver"))
	assert.Equal(t, "function", eval(t, rt, "typeof Event"))
}

package expr

import "testing"

func matrixScope() Scope {
	return Scope{
		"matrix": map[string]string{"python-version": "3.6", "os": "ubuntu-latest"},
		"env":    map[string]string{"CI": "true"},
	}
}

func TestExpandMatrixValue(t *testing.T) {
	got, err := Expand("Set up Python ${{ matrix.python-version }}", matrixScope())
	if err != nil {
		t.Fatal(err)
	}
	if got != "Set up Python 3.6" {
		t.Errorf("got %q", got)
	}
}

func TestExpandMultiple(t *testing.T) {
	got, err := Expand("${{ matrix.os }}/py${{ matrix.python-version }}", matrixScope())
	if err != nil {
		t.Fatal(err)
	}
	if got != "ubuntu-latest/py3.6" {
		t.Errorf("got %q", got)
	}
}

func TestExpandPlainTextUntouched(t *testing.T) {
	in := "pytest --cov=raspberry_pi"
	got, err := Expand(in, matrixScope())
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Errorf("got %q, want %q", got, in)
	}
}

func TestExpandUnknownName(t *testing.T) {
	got, err := Expand("${{ matrix.missing }}", matrixScope())
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestExpandBadExpression(t *testing.T) {
	if _, err := Expand("${{ matrix[ }}", matrixScope()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEvalHelpers(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{`contains('refs/heads/master', 'master')`, true},
		{`contains('refs/heads/master', 'develop')`, false},
		{`startsWith(matrix.os, 'ubuntu')`, true},
		{`endsWith(matrix["python-version"], '.6')`, true},
		{`matrix.python-version == '3.6'`, true},
		{`matrix.python-version === 3.6`, false},
		{`env.CI == 'true'`, true},
	}
	for _, tt := range tests {
		got, err := EvalBool(tt.expr, matrixScope())
		if err != nil {
			t.Fatalf("%s: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvalFormatAndJoin(t *testing.T) {
	v, err := Eval(`format('py{0}-{1}', matrix.python-version, matrix.os)`, matrixScope())
	if err != nil {
		t.Fatal(err)
	}
	if v != "py3.6-ubuntu-latest" {
		t.Errorf("format = %v", v)
	}

	v, err = Eval(`join(['a', 'b', 'c'], '/')`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != "a/b/c" {
		t.Errorf("join = %v", v)
	}
}

func TestEvalBoolStatusHelpers(t *testing.T) {
	ok, err := EvalBool("success()", Scope{"status": "success"})
	if err != nil || !ok {
		t.Errorf("success() on success = %v, %v", ok, err)
	}
	ok, err = EvalBool("success()", Scope{"status": "failure"})
	if err != nil || ok {
		t.Errorf("success() on failure = %v, %v", ok, err)
	}
	ok, err = EvalBool("failure()", Scope{"status": "failure"})
	if err != nil || !ok {
		t.Errorf("failure() on failure = %v, %v", ok, err)
	}
	ok, err = EvalBool("always()", Scope{"status": "cancelled"})
	if err != nil || !ok {
		t.Errorf("always() = %v, %v", ok, err)
	}
}

func TestEvalBoolDelimitedCondition(t *testing.T) {
	ok, err := EvalBool("${{ matrix.python-version == '3.6' }}", matrixScope())
	if err != nil || !ok {
		t.Errorf("delimited condition = %v, %v", ok, err)
	}
}

func TestEvalBoolEmptyIsTrue(t *testing.T) {
	ok, err := EvalBool("", nil)
	if err != nil || !ok {
		t.Errorf("empty condition = %v, %v", ok, err)
	}
}

func TestTruthyStringBend(t *testing.T) {
	if Truthy("false") || Truthy("0") || Truthy("") {
		t.Error("false/0/empty strings must be falsy")
	}
	if !Truthy("true") || !Truthy("3.6") {
		t.Error("non-empty strings must be truthy")
	}
}

func TestStringifyWholeFloat(t *testing.T) {
	if got := Stringify(float64(3)); got != "3" {
		t.Errorf("got %q, want 3", got)
	}
	if got := Stringify(3.5); got != "3.5" {
		t.Errorf("got %q, want 3.5", got)
	}
}

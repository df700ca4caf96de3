package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// ScriptFeatures holds the result of static analysis on a script.
type ScriptFeatures struct {
	LineCount      int
	FunctionCount  int
	StringCount    int
	LoopCount      int
	HasGoto        bool
	HasCoroutines  bool
	HasMetatables  bool
	HasDynamicLoad bool // load, loadstring, dofile
	HasFileIO      bool // io.*
	HasOSAccess    bool // os.*
	ParseFailed    bool

	Complexity         int // 0-100
	RecommendedProfile string
	RecommendedLevel   int
	Warnings           []string
	Suggestions        []string
}

// Analyze inspects source and derives a profile recommendation. It works on
// the AST when the input parses and falls back to the token stream when it
// does not.
func Analyze(src string) *ScriptFeatures {
	f := &ScriptFeatures{LineCount: strings.Count(src, "\n") + 1}
	root, err := lua.Parse(src)
	if err != nil {
		f.ParseFailed = true
		f.Warnings = append(f.Warnings, fmt.Sprintf("input does not parse: %v", err))
		f.tokenScan(src)
	} else {
		f.walkBlock(root)
	}
	f.score()
	return f
}

func (f *ScriptFeatures) tokenScan(src string) {
	for _, tok := range lua.NewLexer(src).Tokens() {
		switch tok.Kind {
		case lua.TkString:
			f.StringCount++
		case lua.TkKeyword:
			switch tok.Lexeme {
			case "function":
				f.FunctionCount++
			case "for", "while", "repeat":
				f.LoopCount++
			case "goto":
				f.HasGoto = true
			}
		case lua.TkIdentifier:
			f.noteName(tok.Lexeme)
		}
	}
}

func (f *ScriptFeatures) noteName(name string) {
	switch name {
	case "coroutine":
		f.HasCoroutines = true
	case "setmetatable", "getmetatable":
		f.HasMetatables = true
	case "load", "loadstring", "dofile", "loadfile":
		f.HasDynamicLoad = true
	case "io":
		f.HasFileIO = true
	case "os":
		f.HasOSAccess = true
	}
}

func (f *ScriptFeatures) walkBlock(b *lua.Block) {
	for _, st := range b.Stmts {
		f.walkStmt(st)
	}
}

func (f *ScriptFeatures) walkStmt(st lua.Stmt) {
	switch n := st.(type) {
	case *lua.LocalStmt:
		for _, v := range n.Values {
			f.walkExpr(v)
		}
	case *lua.AssignStmt:
		for _, t := range n.Targets {
			f.walkExpr(t)
		}
		for _, v := range n.Values {
			f.walkExpr(v)
		}
	case *lua.IfStmt:
		f.walkExpr(n.Cond)
		f.walkBlock(n.Then)
		for _, ei := range n.ElseIfs {
			f.walkExpr(ei.Cond)
			f.walkBlock(ei.Body)
		}
		if n.Else != nil {
			f.walkBlock(n.Else)
		}
	case *lua.NumericForStmt:
		f.LoopCount++
		f.walkExpr(n.Start)
		f.walkExpr(n.End)
		if n.Step != nil {
			f.walkExpr(n.Step)
		}
		f.walkBlock(n.Body)
	case *lua.GenericForStmt:
		f.LoopCount++
		for _, e := range n.Exprs {
			f.walkExpr(e)
		}
		f.walkBlock(n.Body)
	case *lua.WhileStmt:
		f.LoopCount++
		f.walkExpr(n.Cond)
		f.walkBlock(n.Body)
	case *lua.RepeatStmt:
		f.LoopCount++
		f.walkBlock(n.Body)
		f.walkExpr(n.Cond)
	case *lua.ReturnStmt:
		for _, e := range n.Exprs {
			f.walkExpr(e)
		}
	case *lua.GotoStmt:
		f.HasGoto = true
	case *lua.DoStmt:
		f.walkBlock(n.Body)
	case *lua.Block:
		f.walkBlock(n)
	case *lua.FunctionDeclStmt:
		f.FunctionCount++
		f.walkBlock(n.Body)
	case *lua.ExprStmt:
		f.walkExpr(n.Expr)
	}
}

func (f *ScriptFeatures) walkExpr(e lua.Expr) {
	switch n := e.(type) {
	case *lua.StringExpr:
		f.StringCount++
	case *lua.VariableExpr:
		f.noteName(n.Name)
	case *lua.MemberExpr:
		f.walkExpr(n.Obj)
	case *lua.IndexExpr:
		f.walkExpr(n.Obj)
		f.walkExpr(n.Index)
	case *lua.CallExpr:
		f.walkExpr(n.Callee)
		for _, a := range n.Args {
			f.walkExpr(a)
		}
	case *lua.MethodCallExpr:
		f.walkExpr(n.Obj)
		for _, a := range n.Args {
			f.walkExpr(a)
		}
	case *lua.BinaryExpr:
		f.walkExpr(n.Left)
		f.walkExpr(n.Right)
	case *lua.UnaryExpr:
		f.walkExpr(n.Arg)
	case *lua.FunctionExpr:
		f.FunctionCount++
		f.walkBlock(n.Body)
	case *lua.TableExpr:
		for _, fld := range n.Fields {
			if fld.Key != nil {
				f.walkExpr(fld.Key)
			}
			f.walkExpr(fld.Val)
		}
	}
}

// score derives the complexity score and the recommendation.
func (f *ScriptFeatures) score() {
	score := f.FunctionCount*4 + f.LoopCount*3 + f.StringCount
	if f.HasMetatables {
		score += 10
	}
	if f.HasCoroutines {
		score += 10
	}
	if f.HasGoto {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	f.Complexity = score

	switch {
	case f.ParseFailed:
		f.RecommendedProfile, f.RecommendedLevel = "basic", 2
	case f.HasDynamicLoad:
		f.RecommendedProfile, f.RecommendedLevel = "basic", 2
		f.Warnings = append(f.Warnings, "dynamic code loading detected: encrypted strings fed to load() still decode correctly, but renamed globals may not")
	case score >= 60:
		f.RecommendedProfile, f.RecommendedLevel = "professional", 7
	case score >= 25:
		f.RecommendedProfile, f.RecommendedLevel = "standard", 5
	default:
		f.RecommendedProfile, f.RecommendedLevel = "basic", 2
	}
	if f.StringCount > 0 {
		f.Suggestions = append(f.Suggestions, "string literals present: enable stringEncryption")
	}
	if f.FunctionCount > 0 {
		f.Suggestions = append(f.Suggestions, "function declarations present: vmObfuscation can wrap simple bodies")
	}
}

// PrintAnalysis writes the analysis to stderr (if !quiet).
func PrintAnalysis(f *ScriptFeatures, quiet bool) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "%sAnalysis:%s lines=%d functions=%d loops=%d strings=%d complexity=%d/100\n",
		Cyan, Reset, f.LineCount, f.FunctionCount, f.LoopCount, f.StringCount, f.Complexity)
	flags := []string{}
	if f.HasGoto {
		flags = append(flags, "goto")
	}
	if f.HasCoroutines {
		flags = append(flags, "coroutines")
	}
	if f.HasMetatables {
		flags = append(flags, "metatables")
	}
	if f.HasDynamicLoad {
		flags = append(flags, "dynamic-load")
	}
	if f.HasFileIO {
		flags = append(flags, "file-io")
	}
	if f.HasOSAccess {
		flags = append(flags, "os-access")
	}
	if len(flags) > 0 {
		fmt.Fprintf(os.Stderr, "%sFeatures:%s %s\n", Cyan, Reset, strings.Join(flags, ", "))
	}
	fmt.Fprintf(os.Stderr, "%sRecommended:%s profile=%s%s%s level=%d\n",
		Cyan, Reset, Green, f.RecommendedProfile, Reset, f.RecommendedLevel)
	for _, w := range f.Warnings {
		fmt.Fprintf(os.Stderr, "%sWarning:%s %s\n", Yellow, Reset, w)
	}
	for _, s := range f.Suggestions {
		fmt.Fprintf(os.Stderr, "%sHint:%s %s\n", Gray, Reset, s)
	}
}
